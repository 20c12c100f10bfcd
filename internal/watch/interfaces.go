package watch

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// TenantStore persists tenant records and their automation flags.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListAutomated(ctx context.Context) ([]Tenant, error)
	ListReminderEnabled(ctx context.Context) ([]Tenant, error)
	// SetSuspension flips automation off/on together with the suspension
	// bookkeeping. A nil suspendedAt clears the timestamp.
	SetSuspension(ctx context.Context, tenantID string, suspended bool, reason string, suspendedAt *time.Time) error
}

// JobStore persists job metadata and progress.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, category string, newItems int) error
	UpdateJobProgress(ctx context.Context, jobID string, stage string, percent int) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// LastJobTime returns the submission time of the most recent job for the
	// tenant regardless of outcome. ErrNotFound when the tenant has none.
	LastJobTime(ctx context.Context, tenantID string) (time.Time, error)
}

// SnapshotStore persists extraction results attached to jobs.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, tenantID, jobID string, snap Snapshot) error
	// LatestSnapshot returns the most recent successful snapshot for the
	// tenant. ErrNotFound when the tenant has never succeeded.
	LatestSnapshot(ctx context.Context, tenantID string) (Snapshot, error)
}

// FailureLog stores the append-only failure event stream per tenant.
type FailureLog interface {
	Append(ctx context.Context, evt FailureEvent) error
	// Latest returns the most recent event for the tenant.
	// ErrNotFound when the tenant has no events.
	Latest(ctx context.Context, tenantID string) (FailureEvent, error)
}

// DedupStore records sent notifications inside the suppression window.
type DedupStore interface {
	// Seen reports whether a record with the key exists no older than the
	// window.
	Seen(ctx context.Context, tenantID, typ, hash string, window time.Duration) (bool, error)
	Record(ctx context.Context, rec DedupRecord, window time.Duration) error
}

// ReminderStore records permanently which task reminders were sent.
type ReminderStore interface {
	ReminderSent(ctx context.Context, tenantID, taskKey string) (bool, error)
	RecordReminder(ctx context.Context, rec ReminderRecord) error
}

// Queue provides lane-aware enqueue/dequeue semantics for scrape jobs.
// Dequeue prefers the manual lane when both have work.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Solver turns a CAPTCHA challenge image into its text.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverKeys carry per-tenant captcha provider credentials. When attached
// to a context they override the provider's service-level key for that
// run only.
type SolverKeys struct {
	TaskAPI     string
	Recognition string
}

type solverKeysKey struct{}

// WithSolverKeys attaches per-run solver credentials to the context.
func WithSolverKeys(ctx context.Context, keys SolverKeys) context.Context {
	return context.WithValue(ctx, solverKeysKey{}, keys)
}

// SolverKeysFromContext returns the per-run solver credentials, zero when
// none were attached.
func SolverKeysFromContext(ctx context.Context) SolverKeys {
	keys, _ := ctx.Value(solverKeysKey{}).(SolverKeys)
	return keys
}

// Channel delivers a rendered payload to one destination. Implementations
// are wire-level black boxes; the dispatcher only renders and routes.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, destination string, payload Payload) error
}

// Payload is one rendered notification in the channel's preferred shapes.
type Payload struct {
	Subject string
	Text    string
	HTML    string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes stable digests for dedup keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
