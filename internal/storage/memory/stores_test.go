package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unishark/portalwatch/internal/watch"
)

func TestTenantStoreSuspensionFlipsAutomation(t *testing.T) {
	s := NewTenantStore()
	ctx := context.Background()
	require.NoError(t, s.PutTenant(ctx, watch.Tenant{ID: "t1", AutomationEnabled: true}))

	now := time.Now().UTC()
	require.NoError(t, s.SetSuspension(ctx, "t1", true, "too many failures", &now))

	tenant, err := s.GetTenant(ctx, "t1")
	require.NoError(t, err)
	require.True(t, tenant.Suspended)
	require.False(t, tenant.AutomationEnabled)
	require.Equal(t, "too many failures", tenant.SuspendReason)

	automated, err := s.ListAutomated(ctx)
	require.NoError(t, err)
	require.Empty(t, automated, "suspended tenants are not listed for automation")

	require.NoError(t, s.SetSuspension(ctx, "t1", false, "", nil))
	tenant, err = s.GetTenant(ctx, "t1")
	require.NoError(t, err)
	require.False(t, tenant.Suspended)
	require.True(t, tenant.AutomationEnabled)
	require.Nil(t, tenant.SuspendedAt)
}

func TestTenantStoreNotFound(t *testing.T) {
	s := NewTenantStore()
	_, err := s.GetTenant(context.Background(), "missing")
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.ErrorIs(t, s.SetSuspension(context.Background(), "missing", true, "", nil), watch.ErrNotFound)
}

func TestJobStoreLifecycle(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := watch.Job{ID: "j1", TenantID: "t1", Status: watch.JobStatusQueued, Submitted: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))
	require.Error(t, s.CreateJob(ctx, job), "duplicate job IDs are rejected")

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", watch.JobStatusRunning, "", "", 0))
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	require.NoError(t, s.UpdateJobProgress(ctx, "j1", "extract", 60))
	got, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "extract", got.Stage)
	require.Equal(t, 60, got.Percent)

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", watch.JobStatusSucceeded, "", "", 3))
	got, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got.Finished)
	require.Equal(t, 3, got.NewItems)
}

func TestJobStoreLastJobTime(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	_, err := s.LastJobTime(ctx, "t1")
	require.ErrorIs(t, err, watch.ErrNotFound)

	earlier := time.Now().UTC().Add(-2 * time.Hour)
	later := time.Now().UTC()
	require.NoError(t, s.CreateJob(ctx, watch.Job{ID: "j1", TenantID: "t1", Submitted: earlier}))
	require.NoError(t, s.CreateJob(ctx, watch.Job{ID: "j2", TenantID: "t1", Submitted: later}))
	require.NoError(t, s.CreateJob(ctx, watch.Job{ID: "j3", TenantID: "t2", Submitted: later.Add(time.Hour)}))

	got, err := s.LastJobTime(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, later, got)
}

func TestJobStoreSnapshots(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx, "t1")
	require.ErrorIs(t, err, watch.ErrNotFound)

	first := watch.Snapshot{Assignments: []watch.Assignment{{Course: "CS101", Name: "HW1"}}}
	second := watch.Snapshot{Assignments: []watch.Assignment{{Course: "CS101", Name: "HW1"}, {Course: "CS101", Name: "HW2"}}}
	require.NoError(t, s.PutSnapshot(ctx, "t1", "j1", first))
	require.NoError(t, s.PutSnapshot(ctx, "t1", "j2", second))

	got, err := s.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got.Assignments, 2)
}

func TestFailureLogLatest(t *testing.T) {
	l := NewFailureLog()
	ctx := context.Background()

	_, err := l.Latest(ctx, "t1")
	require.ErrorIs(t, err, watch.ErrNotFound)

	require.NoError(t, l.Append(ctx, watch.FailureEvent{TenantID: "t1", Count: 1}))
	require.NoError(t, l.Append(ctx, watch.FailureEvent{TenantID: "t1", Count: 2}))

	latest, err := l.Latest(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Count)
}

func TestDedupStoreWindow(t *testing.T) {
	s := NewDedupStore()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "t1", "error", "h1", 5*time.Minute)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.Record(ctx, watch.DedupRecord{
		TenantID: "t1", Type: "error", Hash: "h1", SentAt: time.Now().UTC(),
	}, 5*time.Minute))

	seen, err = s.Seen(ctx, "t1", "error", "h1", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, seen)

	// A record older than the window no longer suppresses.
	require.NoError(t, s.Record(ctx, watch.DedupRecord{
		TenantID: "t1", Type: "error", Hash: "h2", SentAt: time.Now().UTC().Add(-10 * time.Minute),
	}, 5*time.Minute))
	seen, err = s.Seen(ctx, "t1", "error", "h2", 5*time.Minute)
	require.NoError(t, err)
	require.False(t, seen)
}

func TestReminderStorePermanent(t *testing.T) {
	s := NewReminderStore()
	ctx := context.Background()

	sent, err := s.ReminderSent(ctx, "t1", "Assignment/CS101/HW2")
	require.NoError(t, err)
	require.False(t, sent)

	require.NoError(t, s.RecordReminder(ctx, watch.ReminderRecord{
		TenantID: "t1", TaskKey: "Assignment/CS101/HW2", SentAt: time.Now().UTC(),
	}))

	sent, err = s.ReminderSent(ctx, "t1", "Assignment/CS101/HW2")
	require.NoError(t, err)
	require.True(t, sent)
}
