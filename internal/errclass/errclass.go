// Package errclass maps automation failures onto a fixed category enum.
package errclass

import "strings"

// Category identifies a class of automation failure.
type Category string

const (
	CredentialError         Category = "credential_error"
	CaptchaRejected         Category = "captcha_rejected"
	CaptchaServiceError     Category = "captcha_service_error"
	NoSolvingCredit         Category = "no_solving_credit"
	IPBlocked               Category = "ip_blocked"
	NetworkTimeout          Category = "network_timeout"
	ConnectionFailed        Category = "connection_failed"
	PageLoadFailed          Category = "page_load_failed"
	BrowserCrashed          Category = "browser_crashed"
	DriverError             Category = "driver_error"
	SessionExpired          Category = "session_expired"
	UpstreamMaintenance     Category = "upstream_maintenance"
	UpstreamOverloaded      Category = "upstream_overloaded"
	UnexpectedPageStructure Category = "unexpected_page_structure"
	SolverUnavailable       Category = "solver_unavailable"
	GenericFailure          Category = "generic_failure"
)

// Classify inspects an error message and optional page content and returns
// the first matching category. Matching is priority ordered and case
// insensitive. Unmatched errors land in GenericFailure rather than a
// distinct unknown bucket so that low-information failures do not feed
// the suspension counter.
func Classify(errMsg, pageContent string) Category {
	msg := strings.ToLower(errMsg)
	page := strings.ToLower(pageContent)

	switch {
	case strings.Contains(page, "wrong captcha"),
		strings.Contains(msg, "captcha rejected"),
		strings.Contains(msg, "incorrect captcha"):
		return CaptchaRejected
	case strings.Contains(page, "please enter correct username"),
		strings.Contains(msg, "invalid") && strings.Contains(msg, "credentials"),
		strings.Contains(msg, "credential rejected"):
		return CredentialError
	case strings.Contains(msg, "ip ban"), strings.Contains(msg, "banned"):
		return IPBlocked
	case strings.Contains(msg, "no credit"),
		strings.Contains(msg, "insufficient credit"),
		strings.Contains(msg, "zero balance"):
		return NoSolvingCredit
	case strings.Contains(msg, "solver unavailable"),
		strings.Contains(msg, "no solver configured"):
		return SolverUnavailable
	case strings.Contains(msg, "captcha") &&
		(strings.Contains(msg, "failed") || strings.Contains(msg, "error") || strings.Contains(msg, "timeout")):
		return CaptchaServiceError
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return NetworkTimeout
	case strings.Contains(msg, "connection") &&
		(strings.Contains(msg, "failed") || strings.Contains(msg, "refused") || strings.Contains(msg, "reset")):
		return ConnectionFailed
	case strings.Contains(msg, "page") &&
		(strings.Contains(msg, "load") || strings.Contains(msg, "not found")),
		strings.Contains(msg, "404"):
		return PageLoadFailed
	case strings.Contains(msg, "no such window"),
		strings.Contains(msg, "target window already closed"),
		strings.Contains(msg, "browser closed"):
		return BrowserCrashed
	case strings.Contains(msg, "driver") &&
		(strings.Contains(msg, "error") || strings.Contains(msg, "failed")),
		strings.Contains(msg, "devtools") && strings.Contains(msg, "error"):
		return DriverError
	case strings.Contains(msg, "session") &&
		(strings.Contains(msg, "invalid") || strings.Contains(msg, "expired")):
		return SessionExpired
	case strings.Contains(page, "maintenance"), strings.Contains(msg, "under maintenance"):
		return UpstreamMaintenance
	case strings.Contains(page, "overloaded"), strings.Contains(page, "high traffic"),
		strings.Contains(page, "server busy"):
		return UpstreamOverloaded
	case strings.Contains(msg, "element not found"),
		strings.Contains(msg, "unexpected") && strings.Contains(msg, "page"),
		strings.Contains(msg, "selector") && strings.Contains(msg, "missing"):
		return UnexpectedPageStructure
	case strings.Contains(msg, "login") &&
		(strings.Contains(msg, "failed") || strings.Contains(msg, "error")):
		return CredentialError
	default:
		return GenericFailure
	}
}

// minCountableLen guards the failure counter against low-information
// messages like "error" or a bare exit code.
const minCountableLen = 10

// Countable reports whether a failure in this category should feed the
// consecutive-failure counter. GenericFailure and very short messages
// are excluded to keep ambiguous noise from suspending tenants.
func Countable(cat Category, errMsg string) bool {
	if cat == GenericFailure {
		return false
	}
	return len(strings.TrimSpace(errMsg)) >= minCountableLen
}
