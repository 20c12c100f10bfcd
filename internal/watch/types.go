// Package watch defines core types shared across subsystems.
package watch

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSuspended JobStatus = "suspended"
)

// Trigger identifies how a job entered the queue.
type Trigger string

// Trigger values. Manual triggers bypass the due check and run on the
// higher-priority lane.
const (
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

// Lane names the two queue lanes workers pull from.
type Lane string

// Queue lanes.
const (
	LaneManual     Lane = "manual"
	LaneBackground Lane = "background"
)

// LaneFor maps a trigger to its queue lane.
func LaneFor(t Trigger) Lane {
	if t == TriggerManual {
		return LaneManual
	}
	return LaneBackground
}

// Tenant is one monitored portal account with its notification settings.
type Tenant struct {
	ID                string     `json:"id"`
	PortalUsername    string     `json:"portal_username"`
	PortalPassword    string     `json:"-"`
	TaskAPIKey        string     `json:"-"`
	RecognitionKey    string     `json:"-"`
	Email             string     `json:"email,omitempty"`
	EmailEnabled      bool       `json:"email_enabled"`
	TelegramChatID    string     `json:"telegram_chat_id,omitempty"`
	TelegramEnabled   bool       `json:"telegram_enabled"`
	DiscordWebhook    string     `json:"discord_webhook,omitempty"`
	AutomationEnabled bool       `json:"automation_enabled"`
	IntervalHours     int        `json:"interval_hours"`
	ReminderHours     int        `json:"reminder_hours"`
	ReminderEnabled   bool       `json:"reminder_enabled"`
	Suspended         bool       `json:"suspended"`
	SuspendReason     string     `json:"suspend_reason,omitempty"`
	SuspendedAt       *time.Time `json:"suspended_at,omitempty"`
}

// Assignment is one assignment row extracted from the assignments page.
type Assignment struct {
	Course       string `json:"course"`
	Name         string `json:"name"`
	SubmitStatus string `json:"submit_status"`
	ClosedAt     string `json:"closed_at"`
	GradeStatus  string `json:"grade_status"`
}

// Key is the identity key used for cross-run matching.
func (a Assignment) Key() string { return a.Course + "/" + a.Name }

// Quiz is one quiz row extracted from the quizzes page.
type Quiz struct {
	Course   string `json:"course"`
	Name     string `json:"name"`
	ClosedAt string `json:"closed_at"`
	Grade    string `json:"grade"`
	Graded   bool   `json:"graded"`
}

// Key is the identity key used for cross-run matching.
func (q Quiz) Key() string { return q.Course + "/" + q.Name }

// Absence is one recorded absence.
type Absence struct {
	Course string `json:"course"`
	Kind   string `json:"kind"`
	Date   string `json:"date"`
	Status string `json:"status"`
}

// Key is the identity key used for cross-run matching. Identical
// (course, date, kind) triples from different runs collapse to one item.
func (a Absence) Key() string { return a.Course + "/" + a.Date + "/" + a.Kind }

// CourseOffering is one course open for registration.
type CourseOffering struct {
	Name  string `json:"name"`
	Hours string `json:"hours"`
	Fees  string `json:"fees"`
	Group string `json:"group"`
}

// Key is the identity key used for cross-run matching.
func (c CourseOffering) Key() string { return c.Name }

// Snapshot is one extraction result. Category collections may individually
// carry an error flag without invalidating the whole snapshot. Snapshots are
// append-only and never mutated after creation.
type Snapshot struct {
	Assignments []Assignment     `json:"assignments"`
	Quizzes     []Quiz           `json:"quizzes"`
	Absences    []Absence        `json:"absences"`
	Offerings   []CourseOffering `json:"offerings"`

	RegistrationEnds string `json:"registration_ends,omitempty"`

	AssignmentsErr string `json:"assignments_err,omitempty"`
	QuizzesErr     string `json:"quizzes_err,omitempty"`
	AbsencesErr    string `json:"absences_err,omitempty"`
	OfferingsErr   string `json:"offerings_err,omitempty"`
}

// Job is the metadata persisted for each executed scrape.
type Job struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Trigger   Trigger    `json:"trigger"`
	Status    JobStatus  `json:"status"`
	Stage     string     `json:"stage,omitempty"`
	Percent   int        `json:"percent"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	NewItems  int        `json:"new_items"`
	ErrorText string     `json:"error_text,omitempty"`
	Category  string     `json:"error_category,omitempty"`
}

// FailureEvent is one entry in the per-tenant failure log. The live failure
// state is derived from the most recent event, not a separately stored
// running counter.
type FailureEvent struct {
	TenantID   string    `json:"tenant_id"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	Count      int       `json:"count"`
	Suspended  bool      `json:"suspended"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DedupRecord marks a notification as sent for window-based suppression.
type DedupRecord struct {
	TenantID string    `json:"tenant_id"`
	Type     string    `json:"type"`
	Hash     string    `json:"hash"`
	SentAt   time.Time `json:"sent_at"`
}

// ReminderRecord marks a deadline reminder as sent for a task. Records are
// permanent; at most one reminder is ever sent per task.
type ReminderRecord struct {
	TenantID string    `json:"tenant_id"`
	TaskKey  string    `json:"task_key"`
	SentAt   time.Time `json:"sent_at"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string  `json:"job_id"`
	TenantID  string  `json:"tenant_id"`
	Trigger   Trigger `json:"trigger"`
	Attempt   int     `json:"attempt"`
	Submitted int64   `json:"submitted"`
}
