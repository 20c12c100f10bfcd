package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/unishark/portalwatch/internal/dates"
	"github.com/unishark/portalwatch/internal/watch"
)

// markdownV2Specials are the characters Telegram requires escaped in
// MarkdownV2 text.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes text for Telegram MarkdownV2 parse mode.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Renderer turns events into channel-specific payloads.
type Renderer struct {
	clock watch.Clock
}

// NewRenderer creates a Renderer.
func NewRenderer(clock watch.Clock) *Renderer {
	return &Renderer{clock: clock}
}

// Email renders the event as a subject plus HTML body.
func (r *Renderer) Email(e Event) watch.Payload {
	subject, body := r.subjectAndLines(e)
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>" + html.EscapeString(subject) + "</h2>")
	for _, line := range body {
		b.WriteString("<p>" + html.EscapeString(line) + "</p>")
	}
	b.WriteString("<hr><p><small>Sent by portalwatch</small></p>")
	b.WriteString("</body></html>")
	return watch.Payload{Subject: subject, HTML: b.String(), Text: strings.Join(body, "\n")}
}

// Telegram renders the event as MarkdownV2 text.
func (r *Renderer) Telegram(e Event) watch.Payload {
	subject, body := r.subjectAndLines(e)
	var b strings.Builder
	b.WriteString("*" + EscapeMarkdownV2(subject) + "*\n\n")
	for _, line := range body {
		b.WriteString(EscapeMarkdownV2(line) + "\n")
	}
	return watch.Payload{Subject: subject, Text: b.String()}
}

// Plain renders the event as plain text, used for webhook channels.
func (r *Renderer) Plain(e Event) watch.Payload {
	subject, body := r.subjectAndLines(e)
	return watch.Payload{
		Subject: subject,
		Text:    "**" + subject + "**\n" + strings.Join(body, "\n"),
	}
}

func (r *Renderer) subjectAndLines(e Event) (string, []string) {
	switch e.Type {
	case EventFirstRun:
		return "Monitoring active: first check complete", r.summaryLines(e, true)
	case EventNewItems:
		return fmt.Sprintf("%d new items detected", e.Items.Count()), r.summaryLines(e, false)
	case EventError:
		return "Check failed: " + string(e.Category), []string{e.Message}
	case EventSuspension:
		return "Automatic checks suspended", []string{
			e.Message,
			"Re-enable automation from your settings page once the underlying problem is fixed.",
		}
	case EventReminder:
		due := dates.Display(e.Task.Due)
		return fmt.Sprintf("%s due soon: %s", e.Task.TaskType, e.Task.Name), []string{
			fmt.Sprintf("%s \"%s\" (%s) is due %s (%s).",
				e.Task.TaskType, e.Task.Name, e.Task.Course, due,
				dates.Relative(e.Task.Due, r.clock.Now())),
		}
	default:
		return "Notification", nil
	}
}

func (r *Renderer) summaryLines(e Event, firstRun bool) []string {
	var lines []string
	if firstRun {
		lines = append(lines, "Your account is now being monitored. Here is what was found on the first check:")
		lines = append(lines,
			fmt.Sprintf("Assignments: %d", len(e.Items.Assignments)),
			fmt.Sprintf("Quizzes: %d", len(e.Items.Quizzes)),
			fmt.Sprintf("Absences: %d", len(e.Items.Absences)),
			fmt.Sprintf("Available courses: %d", len(e.Items.Courses)),
			fmt.Sprintf("Total items monitored: %d", e.Items.Count()),
		)
		return lines
	}

	for _, a := range e.Items.Assignments {
		lines = append(lines, fmt.Sprintf("Assignment: %s (%s), due %s, status: %s",
			a.Name, a.Course, orNA(a.ClosedAt), a.SubmitStatus))
	}
	for _, q := range e.Items.Quizzes {
		lines = append(lines, fmt.Sprintf("Quiz: %s (%s), closes %s, grade: %s",
			q.Name, q.Course, orNA(q.ClosedAt), q.Grade))
	}
	for _, ab := range e.Items.Absences {
		lines = append(lines, fmt.Sprintf("Absence: %s on %s (%s)", ab.Course, ab.Date, ab.Kind))
	}
	for _, c := range e.Items.Courses {
		lines = append(lines, fmt.Sprintf("Course open for registration: %s (group %s, %s hours)",
			c.Name, orNA(c.Group), orNA(c.Hours)))
	}
	return lines
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
