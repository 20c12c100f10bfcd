// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unishark/portalwatch/internal/watch"
)

// TenantStore keeps tenants in a map.
type TenantStore struct {
	mu      sync.RWMutex
	tenants map[string]watch.Tenant
}

// NewTenantStore constructs a TenantStore.
func NewTenantStore() *TenantStore {
	return &TenantStore{tenants: make(map[string]watch.Tenant)}
}

// PutTenant inserts or replaces a tenant.
func (s *TenantStore) PutTenant(_ context.Context, tenant watch.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
	return nil
}

// GetTenant fetches a tenant by ID.
func (s *TenantStore) GetTenant(_ context.Context, tenantID string) (watch.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return watch.Tenant{}, watch.ErrNotFound
	}
	return tenant, nil
}

// ListAutomated returns tenants with automation enabled and not suspended.
func (s *TenantStore) ListAutomated(context.Context) ([]watch.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []watch.Tenant
	for _, t := range s.tenants {
		if t.AutomationEnabled && !t.Suspended {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListReminderEnabled returns tenants with deadline reminders enabled.
func (s *TenantStore) ListReminderEnabled(context.Context) ([]watch.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []watch.Tenant
	for _, t := range s.tenants {
		if t.ReminderEnabled {
			out = append(out, t)
		}
	}
	return out, nil
}

// SetSuspension updates the suspension bookkeeping. Suspension always flips
// the automation flag in the opposite direction.
func (s *TenantStore) SetSuspension(_ context.Context, tenantID string, suspended bool, reason string, suspendedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return watch.ErrNotFound
	}
	tenant.Suspended = suspended
	tenant.SuspendReason = reason
	tenant.SuspendedAt = suspendedAt
	tenant.AutomationEnabled = !suspended
	s.tenants[tenantID] = tenant
	return nil
}

// JobStore keeps jobs and snapshots in maps.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]watch.Job
	snapshots map[string][]snapshotEntry
}

type snapshotEntry struct {
	jobID string
	at    time.Time
	snap  watch.Snapshot
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]watch.Job),
		snapshots: make(map[string][]snapshotEntry),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job watch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates status and terminal fields for a job.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status watch.JobStatus, errText, category string, newItems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return watch.ErrNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Category = category
	job.NewItems = newItems
	now := time.Now().UTC()
	if status == watch.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if isTerminal(status) {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress records the stage and completion percentage.
func (s *JobStore) UpdateJobProgress(_ context.Context, jobID, stage string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return watch.ErrNotFound
	}
	job.Stage = stage
	job.Percent = percent
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (watch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return watch.Job{}, watch.ErrNotFound
	}
	return job, nil
}

// LastJobTime returns the latest submission time for the tenant regardless
// of outcome.
func (s *JobStore) LastJobTime(_ context.Context, tenantID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest time.Time
		found  bool
	)
	for _, job := range s.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if !found || job.Submitted.After(latest) {
			latest = job.Submitted
			found = true
		}
	}
	if !found {
		return time.Time{}, watch.ErrNotFound
	}
	return latest, nil
}

// PutSnapshot appends a snapshot for the tenant.
func (s *JobStore) PutSnapshot(_ context.Context, tenantID, jobID string, snap watch.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[tenantID] = append(s.snapshots[tenantID], snapshotEntry{
		jobID: jobID,
		at:    time.Now().UTC(),
		snap:  snap,
	})
	return nil
}

// LatestSnapshot returns the most recent snapshot for the tenant.
func (s *JobStore) LatestSnapshot(_ context.Context, tenantID string) (watch.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.snapshots[tenantID]
	if len(entries) == 0 {
		return watch.Snapshot{}, watch.ErrNotFound
	}
	return entries[len(entries)-1].snap, nil
}

func isTerminal(status watch.JobStatus) bool {
	switch status {
	case watch.JobStatusSucceeded, watch.JobStatusFailed, watch.JobStatusSuspended:
		return true
	default:
		return false
	}
}

// FailureLog keeps failure events per tenant.
type FailureLog struct {
	mu     sync.RWMutex
	events map[string][]watch.FailureEvent
}

// NewFailureLog constructs a FailureLog.
func NewFailureLog() *FailureLog {
	return &FailureLog{events: make(map[string][]watch.FailureEvent)}
}

// Append adds an event to the tenant's stream.
func (l *FailureLog) Append(_ context.Context, evt watch.FailureEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[evt.TenantID] = append(l.events[evt.TenantID], evt)
	return nil
}

// Latest returns the most recent event for the tenant.
func (l *FailureLog) Latest(_ context.Context, tenantID string) (watch.FailureEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[tenantID]
	if len(events) == 0 {
		return watch.FailureEvent{}, watch.ErrNotFound
	}
	return events[len(events)-1], nil
}

// DedupStore keeps dedup records with their send times.
type DedupStore struct {
	mu      sync.RWMutex
	records map[string]time.Time
}

// NewDedupStore constructs a DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{records: make(map[string]time.Time)}
}

func dedupKey(tenantID, typ, hash string) string {
	return tenantID + "|" + typ + "|" + hash
}

// Seen reports whether a record with the key exists inside the window.
func (s *DedupStore) Seen(_ context.Context, tenantID, typ, hash string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sentAt, ok := s.records[dedupKey(tenantID, typ, hash)]
	if !ok {
		return false, nil
	}
	return time.Since(sentAt) <= window, nil
}

// Record stores a sent notification.
func (s *DedupStore) Record(_ context.Context, rec watch.DedupRecord, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[dedupKey(rec.TenantID, rec.Type, rec.Hash)] = rec.SentAt
	return nil
}

// Prune drops records older than the retention period.
func (s *DedupStore) Prune(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int
	for key, sentAt := range s.records {
		if time.Since(sentAt) > retention {
			delete(s.records, key)
			dropped++
		}
	}
	return dropped
}

// ReminderStore keeps permanent reminder records.
type ReminderStore struct {
	mu   sync.RWMutex
	sent map[string]watch.ReminderRecord
}

// NewReminderStore constructs a ReminderStore.
func NewReminderStore() *ReminderStore {
	return &ReminderStore{sent: make(map[string]watch.ReminderRecord)}
}

// ReminderSent reports whether a reminder was ever sent for the task.
func (s *ReminderStore) ReminderSent(_ context.Context, tenantID, taskKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sent[tenantID+"|"+taskKey]
	return ok, nil
}

// RecordReminder marks the task's reminder as sent.
func (s *ReminderStore) RecordReminder(_ context.Context, rec watch.ReminderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[rec.TenantID+"|"+rec.TaskKey] = rec
	return nil
}
