// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unishark/portalwatch/internal/watch"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the slice of pgxpool.Pool the store uses, extracted so tests can
// substitute pgxmock.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the tenant, job, snapshot, failure, dedup and reminder
// stores against one Postgres database.
type Store struct {
	pool pool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(p pool) *Store {
	return &Store{pool: p}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetTenant fetches a tenant row.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (watch.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, portal_username, portal_password, task_api_key, recognition_key,
       email, email_enabled, telegram_chat_id, telegram_enabled, discord_webhook,
       automation_enabled, interval_hours, reminder_hours, reminder_enabled,
       suspended, suspend_reason, suspended_at
FROM tenants WHERE id = $1`, tenantID)
	return scanTenant(row)
}

// ListAutomated returns tenants eligible for background scheduling.
func (s *Store) ListAutomated(ctx context.Context) ([]watch.Tenant, error) {
	return s.listTenants(ctx, `
SELECT id, portal_username, portal_password, task_api_key, recognition_key,
       email, email_enabled, telegram_chat_id, telegram_enabled, discord_webhook,
       automation_enabled, interval_hours, reminder_hours, reminder_enabled,
       suspended, suspend_reason, suspended_at
FROM tenants WHERE automation_enabled AND NOT suspended`)
}

// ListReminderEnabled returns tenants with deadline reminders enabled.
func (s *Store) ListReminderEnabled(ctx context.Context) ([]watch.Tenant, error) {
	return s.listTenants(ctx, `
SELECT id, portal_username, portal_password, task_api_key, recognition_key,
       email, email_enabled, telegram_chat_id, telegram_enabled, discord_webhook,
       automation_enabled, interval_hours, reminder_hours, reminder_enabled,
       suspended, suspend_reason, suspended_at
FROM tenants WHERE reminder_enabled`)
}

func (s *Store) listTenants(ctx context.Context, query string) ([]watch.Tenant, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []watch.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (watch.Tenant, error) {
	var t watch.Tenant
	err := row.Scan(&t.ID, &t.PortalUsername, &t.PortalPassword, &t.TaskAPIKey, &t.RecognitionKey,
		&t.Email, &t.EmailEnabled, &t.TelegramChatID, &t.TelegramEnabled, &t.DiscordWebhook,
		&t.AutomationEnabled, &t.IntervalHours, &t.ReminderHours, &t.ReminderEnabled,
		&t.Suspended, &t.SuspendReason, &t.SuspendedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.Tenant{}, watch.ErrNotFound
	}
	if err != nil {
		return watch.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}

// SetSuspension updates the suspension columns together with the
// automation flag.
func (s *Store) SetSuspension(ctx context.Context, tenantID string, suspended bool, reason string, suspendedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tenants
SET suspended = $2, suspend_reason = $3, suspended_at = $4, automation_enabled = NOT $2
WHERE id = $1`, tenantID, suspended, reason, suspendedAt)
	if err != nil {
		return fmt.Errorf("update suspension: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrNotFound
	}
	return nil
}

// CreateJob inserts a job row in its initial status.
func (s *Store) CreateJob(ctx context.Context, job watch.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO jobs (id, tenant_id, trigger, status, stage, percent, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TenantID, string(job.Trigger), string(job.Status), job.Stage, job.Percent, job.Submitted)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates the status and terminal fields for a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status watch.JobStatus, errText, category string, newItems int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs
SET status = $2,
    error_text = $3,
    error_category = $4,
    new_items = $5,
    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
    finished_at = CASE WHEN $2 IN ('succeeded', 'failed', 'suspended') THEN now() ELSE finished_at END
WHERE id = $1`, jobID, string(status), errText, category, newItems)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrNotFound
	}
	return nil
}

// UpdateJobProgress records the stage and completion percentage.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID, stage string, percent int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET stage = $2, percent = $3 WHERE id = $1`,
		jobID, stage, percent)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrNotFound
	}
	return nil
}

// GetJob fetches a job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (watch.Job, error) {
	var (
		job      watch.Job
		trigger  string
		status   string
		errText  *string
		category *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, tenant_id, trigger, status, stage, percent, submitted_at,
       started_at, finished_at, new_items, error_text, error_category
FROM jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &job.TenantID, &trigger, &status, &job.Stage, &job.Percent, &job.Submitted,
		&job.Started, &job.Finished, &job.NewItems, &errText, &category)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.Job{}, watch.ErrNotFound
	}
	if err != nil {
		return watch.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Trigger = watch.Trigger(trigger)
	job.Status = watch.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	if category != nil {
		job.Category = *category
	}
	return job, nil
}

// LastJobTime returns the most recent submission time for the tenant
// regardless of outcome.
func (s *Store) LastJobTime(ctx context.Context, tenantID string) (time.Time, error) {
	var submitted time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT submitted_at FROM jobs WHERE tenant_id = $1 ORDER BY submitted_at DESC LIMIT 1`,
		tenantID).Scan(&submitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, watch.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last job time: %w", err)
	}
	return submitted, nil
}

// PutSnapshot attaches the snapshot document to its job row.
func (s *Store) PutSnapshot(ctx context.Context, tenantID, jobID string, snap watch.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET snapshot = $3 WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID, data)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrNotFound
	}
	return nil
}

// LatestSnapshot returns the snapshot of the tenant's most recent job that
// has one.
func (s *Store) LatestSnapshot(ctx context.Context, tenantID string) (watch.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
SELECT snapshot FROM jobs
WHERE tenant_id = $1 AND snapshot IS NOT NULL
ORDER BY submitted_at DESC LIMIT 1`, tenantID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.Snapshot{}, watch.ErrNotFound
	}
	if err != nil {
		return watch.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	var snap watch.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return watch.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Append adds a failure event to the tenant's stream.
func (s *Store) Append(ctx context.Context, evt watch.FailureEvent) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO failure_events (tenant_id, category, message, count, suspended, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.TenantID, evt.Category, evt.Message, evt.Count, evt.Suspended, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert failure event: %w", err)
	}
	return nil
}

// Latest returns the most recent failure event for the tenant.
func (s *Store) Latest(ctx context.Context, tenantID string) (watch.FailureEvent, error) {
	var evt watch.FailureEvent
	err := s.pool.QueryRow(ctx, `
SELECT tenant_id, category, message, count, suspended, occurred_at
FROM failure_events WHERE tenant_id = $1
ORDER BY occurred_at DESC, id DESC LIMIT 1`, tenantID).Scan(
		&evt.TenantID, &evt.Category, &evt.Message, &evt.Count, &evt.Suspended, &evt.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.FailureEvent{}, watch.ErrNotFound
	}
	if err != nil {
		return watch.FailureEvent{}, fmt.Errorf("scan failure event: %w", err)
	}
	return evt, nil
}

// Seen reports whether a dedup record exists inside the window.
func (s *Store) Seen(ctx context.Context, tenantID, typ, hash string, window time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM notification_dedup
  WHERE tenant_id = $1 AND type = $2 AND content_hash = $3 AND sent_at > now() - $4::interval
)`, tenantID, typ, hash, window.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query dedup record: %w", err)
	}
	return exists, nil
}

// Record stores a sent notification for window-based suppression.
func (s *Store) Record(ctx context.Context, rec watch.DedupRecord, _ time.Duration) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO notification_dedup (tenant_id, type, content_hash, sent_at)
VALUES ($1, $2, $3, $4)`, rec.TenantID, rec.Type, rec.Hash, rec.SentAt)
	if err != nil {
		return fmt.Errorf("insert dedup record: %w", err)
	}
	return nil
}

// PruneDedup removes dedup records older than the retention period.
func (s *Store) PruneDedup(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notification_dedup WHERE sent_at < now() - $1::interval`, retention.String())
	if err != nil {
		return 0, fmt.Errorf("prune dedup records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReminderSent reports whether a reminder was ever recorded for the task.
func (s *Store) ReminderSent(ctx context.Context, tenantID, taskKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sent_reminders WHERE tenant_id = $1 AND task_key = $2)`,
		tenantID, taskKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query reminder record: %w", err)
	}
	return exists, nil
}

// RecordReminder marks the task's reminder as sent, permanently.
func (s *Store) RecordReminder(ctx context.Context, rec watch.ReminderRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sent_reminders (tenant_id, task_key, sent_at)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, task_key) DO NOTHING`, rec.TenantID, rec.TaskKey, rec.SentAt)
	if err != nil {
		return fmt.Errorf("insert reminder record: %w", err)
	}
	return nil
}
