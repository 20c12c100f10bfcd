// Package executor runs one scrape job end to end: credentials, browser
// automation, extraction, diffing, notification and persistence.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/breaker"
	"github.com/unishark/portalwatch/internal/dedup"
	"github.com/unishark/portalwatch/internal/diff"
	"github.com/unishark/portalwatch/internal/errclass"
	"github.com/unishark/portalwatch/internal/notify"
	"github.com/unishark/portalwatch/internal/session"
	"github.com/unishark/portalwatch/internal/watch"
)

// SessionRunner is the browser automation entry point.
type SessionRunner interface {
	Run(ctx context.Context, creds session.Credentials) (watch.Snapshot, error)
}

// Dispatcher delivers a rendered event across the tenant's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant watch.Tenant, event notify.Event) int
}

// Executor drives the job state machine. A returned error means the job
// failed and is eligible for a queue retry; a nil return means the job is
// terminal, whether succeeded, suspended or unrecoverable.
type Executor struct {
	tenants    watch.TenantStore
	jobs       watch.JobStore
	snapshots  watch.SnapshotStore
	runner     SessionRunner
	breaker    *breaker.Breaker
	deduper    *dedup.Deduplicator
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates an Executor.
func New(
	tenants watch.TenantStore,
	jobs watch.JobStore,
	snapshots watch.SnapshotStore,
	runner SessionRunner,
	brk *breaker.Breaker,
	deduper *dedup.Deduplicator,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		tenants:    tenants,
		jobs:       jobs,
		snapshots:  snapshots,
		runner:     runner,
		breaker:    brk,
		deduper:    deduper,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Job progress stages reported while a job runs.
const (
	stageInit        = "initializing"
	stageCredentials = "fetching credentials"
	stageAutomate    = "logging in"
	stageExtract     = "extracting pages"
	stageDiff        = "comparing snapshots"
	stageNotify      = "sending notifications"
	stagePersist     = "persisting results"
	stageDone        = "done"
)

// Execute runs the job referenced by item.
func (e *Executor) Execute(ctx context.Context, item watch.QueueItem) error {
	logger := e.logger.With(
		zap.String("job_id", item.JobID),
		zap.String("tenant_id", item.TenantID),
		zap.String("trigger", string(item.Trigger)))
	logger.Info("job started", zap.Int("attempt", item.Attempt))

	e.progress(ctx, item.JobID, stageInit, 5)

	tenant, err := e.tenants.GetTenant(ctx, item.TenantID)
	if errors.Is(err, watch.ErrNotFound) {
		// Tenant deleted after enqueue; nothing to retry.
		e.finish(ctx, item.JobID, watch.JobStatusFailed, "tenant no longer exists", string(errclass.GenericFailure), 0)
		return nil
	}
	if err != nil {
		e.finish(ctx, item.JobID, watch.JobStatusFailed, err.Error(), string(errclass.GenericFailure), 0)
		return fmt.Errorf("load tenant: %w", err)
	}

	// A suspension landing between enqueue and execution short-circuits the
	// job without touching the failure state.
	if tenant.Suspended {
		logger.Info("job short-circuited, tenant suspended",
			zap.String("reason", tenant.SuspendReason))
		e.finish(ctx, item.JobID, watch.JobStatusSuspended, "tenant suspended: "+tenant.SuspendReason, "", 0)
		return nil
	}

	if err := e.jobs.UpdateJobStatus(ctx, item.JobID, watch.JobStatusRunning, "", "", 0); err != nil {
		logger.Warn("failed to mark job running", zap.Error(err))
	}

	e.progress(ctx, item.JobID, stageCredentials, 10)
	if tenant.PortalUsername == "" || tenant.PortalPassword == "" {
		return e.fail(ctx, logger, tenant, item, fmt.Errorf("login failed: tenant has no portal credentials configured"))
	}

	e.progress(ctx, item.JobID, stageAutomate, 25)
	snap, err := e.runner.Run(ctx, session.Credentials{
		Username: tenant.PortalUsername,
		Password: tenant.PortalPassword,
		SolverKeys: watch.SolverKeys{
			TaskAPI:     tenant.TaskAPIKey,
			Recognition: tenant.RecognitionKey,
		},
	})
	if err != nil {
		return e.fail(ctx, logger, tenant, item, err)
	}
	e.progress(ctx, item.JobID, stageExtract, 60)

	e.progress(ctx, item.JobID, stageDiff, 75)
	var prev *watch.Snapshot
	last, err := e.snapshots.LatestSnapshot(ctx, tenant.ID)
	switch {
	case errors.Is(err, watch.ErrNotFound):
		prev = nil
	case err != nil:
		return e.fail(ctx, logger, tenant, item, fmt.Errorf("load previous snapshot: %w", err))
	default:
		prev = &last
	}
	result := diff.Snapshots(prev, snap)

	e.progress(ctx, item.JobID, stagePersist, 85)
	if err := e.snapshots.PutSnapshot(ctx, tenant.ID, item.JobID, snap); err != nil {
		return e.fail(ctx, logger, tenant, item, fmt.Errorf("persist snapshot: %w", err))
	}
	if err := e.breaker.RecordSuccess(ctx, tenant.ID); err != nil {
		logger.Warn("failed to record success in breaker", zap.Error(err))
	}

	e.progress(ctx, item.JobID, stageNotify, 90)
	e.notifyResult(ctx, logger, tenant, result)

	e.finish(ctx, item.JobID, watch.JobStatusSucceeded, "", "", result.Count())
	e.progress(ctx, item.JobID, stageDone, 100)
	logger.Info("job succeeded",
		zap.Int("new_items", result.Count()),
		zap.Bool("first_run", result.FirstRun))
	return nil
}

// notifyResult sends the first-run summary or new-items alert. Delivery
// problems never fail a job that already produced a snapshot.
func (e *Executor) notifyResult(ctx context.Context, logger *zap.Logger, tenant watch.Tenant, result diff.Result) {
	var event notify.Event
	switch {
	case result.FirstRun:
		event = notify.Event{Type: notify.EventFirstRun, Items: result}
	case !result.Empty():
		event = notify.Event{Type: notify.EventNewItems, Items: result}
	default:
		return
	}

	if !e.deduper.ShouldSend(ctx, tenant.ID, string(event.Type), result) {
		logger.Info("result notification suppressed by dedup",
			zap.String("event_type", string(event.Type)))
		return
	}
	e.dispatcher.Dispatch(ctx, tenant, event)
}

// fail classifies the error, records it with the breaker, notifies the
// tenant and marks the job failed. The original error is returned so the
// worker can decide on a retry.
func (e *Executor) fail(ctx context.Context, logger *zap.Logger, tenant watch.Tenant, item watch.QueueItem, jobErr error) error {
	msg := jobErr.Error()
	page := session.PageContent(jobErr)
	cat := errclass.Classify(msg, page)
	logger.Error("job failed",
		zap.String("category", string(cat)),
		zap.Error(jobErr))

	out, err := e.breaker.RecordFailure(ctx, tenant.ID, cat, msg)
	if err != nil {
		logger.Warn("failed to record failure in breaker", zap.Error(err))
	}

	e.notifyFailure(ctx, logger, tenant, cat, msg, out)
	e.finish(ctx, item.JobID, watch.JobStatusFailed, msg, string(cat), 0)
	return jobErr
}

func (e *Executor) notifyFailure(ctx context.Context, logger *zap.Logger, tenant watch.Tenant, cat errclass.Category, raw string, out breaker.Outcome) {
	friendly := notify.FriendlyMessage(cat, raw)

	if out.Suspended {
		event := notify.Event{Type: notify.EventSuspension, Category: cat, Message: out.Reason}
		content := map[string]string{"category": string(cat), "reason": out.Reason}
		if e.deduper.ShouldSend(ctx, tenant.ID, string(event.Type), content) {
			e.dispatcher.Dispatch(ctx, tenant, event)
		}
		return
	}

	event := notify.Event{Type: notify.EventError, Category: cat, Message: friendly}
	content := map[string]string{"category": string(cat), "message": friendly}
	if !e.deduper.ShouldSend(ctx, tenant.ID, string(event.Type), content) {
		logger.Info("error notification suppressed by dedup",
			zap.String("category", string(cat)))
		return
	}
	e.dispatcher.Dispatch(ctx, tenant, event)
}

func (e *Executor) progress(ctx context.Context, jobID, stage string, percent int) {
	if err := e.jobs.UpdateJobProgress(ctx, jobID, stage, percent); err != nil {
		e.logger.Debug("failed to update job progress",
			zap.String("job_id", jobID),
			zap.String("stage", stage),
			zap.Error(err))
	}
}

func (e *Executor) finish(ctx context.Context, jobID string, status watch.JobStatus, errText, category string, newItems int) {
	if err := e.jobs.UpdateJobStatus(ctx, jobID, status, errText, category, newItems); err != nil {
		e.logger.Warn("failed to finalize job status",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
