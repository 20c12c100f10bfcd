// Package notify renders structured events and dispatches them across the
// tenant's enabled delivery channels.
package notify

import (
	"time"

	"github.com/unishark/portalwatch/internal/diff"
	"github.com/unishark/portalwatch/internal/errclass"
)

// EventType names the notification shapes the dispatcher can render.
type EventType string

// Notification event types. These double as dedup keys.
const (
	EventNewItems   EventType = "new_items"
	EventFirstRun   EventType = "first_run_summary"
	EventError      EventType = "error"
	EventSuspension EventType = "suspension"
	EventReminder   EventType = "deadline_reminder"
)

// ReminderTask describes one task a deadline reminder is about.
type ReminderTask struct {
	TaskType string
	Course   string
	Name     string
	Due      time.Time
}

// Event is one notification to be rendered and delivered. Only the fields
// relevant to its type are set.
type Event struct {
	Type EventType

	// new_items / first_run_summary
	Items diff.Result

	// error / suspension
	Category errclass.Category
	Message  string

	// deadline_reminder
	Task ReminderTask
}

// friendlyMessages maps categories onto the wording shown to tenants.
var friendlyMessages = map[errclass.Category]string{
	errclass.CredentialError:         "Your portal username or password appears to be incorrect. Please check your credentials in settings.",
	errclass.CaptchaRejected:         "CAPTCHA verification failed. This might be due to CAPTCHA service issues or poor image quality.",
	errclass.CaptchaServiceError:     "CAPTCHA solving service is experiencing issues. Please check your API keys or try again later.",
	errclass.NoSolvingCredit:         "Your CAPTCHA service has run out of credits. Please top up your account or check your API keys.",
	errclass.IPBlocked:               "Your IP address appears to be temporarily banned. Please try again later.",
	errclass.NetworkTimeout:          "Network connection timed out. Please check your internet connection.",
	errclass.ConnectionFailed:        "Failed to connect to the portal. The server might be down or experiencing issues.",
	errclass.PageLoadFailed:          "Failed to load a portal page. The website might be experiencing issues.",
	errclass.BrowserCrashed:          "The browser crashed during the check. This is usually a temporary issue.",
	errclass.DriverError:             "The browser driver encountered an error. Please try again later.",
	errclass.SessionExpired:          "The login session expired during the check. The next scheduled run will retry.",
	errclass.UpstreamMaintenance:     "The portal is currently under maintenance. Checks will resume automatically when it is back.",
	errclass.UpstreamOverloaded:      "The portal server is overloaded. The next run will retry when traffic is lower.",
	errclass.UnexpectedPageStructure: "The portal page structure has changed. We are looking into it.",
	errclass.SolverUnavailable:       "No CAPTCHA solving service is configured or available. Please add an API key in settings.",
}

// FriendlyMessage converts a category and raw error into tenant-facing
// wording.
func FriendlyMessage(cat errclass.Category, raw string) string {
	if msg, ok := friendlyMessages[cat]; ok {
		return msg
	}
	return "An error occurred: " + raw
}
