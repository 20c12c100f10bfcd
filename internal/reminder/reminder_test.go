package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/notify"
	"github.com/unishark/portalwatch/internal/watch"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeTenantStore struct {
	tenants []watch.Tenant
}

func (s *fakeTenantStore) GetTenant(_ context.Context, id string) (watch.Tenant, error) {
	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return watch.Tenant{}, watch.ErrNotFound
}

func (s *fakeTenantStore) ListAutomated(context.Context) ([]watch.Tenant, error) { return nil, nil }

func (s *fakeTenantStore) ListReminderEnabled(context.Context) ([]watch.Tenant, error) {
	return s.tenants, nil
}

func (s *fakeTenantStore) SetSuspension(context.Context, string, bool, string, *time.Time) error {
	return nil
}

type fakeSnapshotStore struct {
	snaps map[string]watch.Snapshot
}

func (s *fakeSnapshotStore) PutSnapshot(_ context.Context, tenantID, _ string, snap watch.Snapshot) error {
	s.snaps[tenantID] = snap
	return nil
}

func (s *fakeSnapshotStore) LatestSnapshot(_ context.Context, tenantID string) (watch.Snapshot, error) {
	snap, ok := s.snaps[tenantID]
	if !ok {
		return watch.Snapshot{}, watch.ErrNotFound
	}
	return snap, nil
}

type fakeReminderStore struct {
	sent map[string]bool
}

func (s *fakeReminderStore) ReminderSent(_ context.Context, tenantID, taskKey string) (bool, error) {
	return s.sent[tenantID+"|"+taskKey], nil
}

func (s *fakeReminderStore) RecordReminder(_ context.Context, rec watch.ReminderRecord) error {
	s.sent[rec.TenantID+"|"+rec.TaskKey] = true
	return nil
}

type capturingDispatcher struct {
	events []notify.Event
}

func (d *capturingDispatcher) Dispatch(_ context.Context, _ watch.Tenant, e notify.Event) int {
	d.events = append(d.events, e)
	return 1
}

var sweepNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newSweeper(snap watch.Snapshot) (*Sweeper, *capturingDispatcher, *fakeClock) {
	tenants := &fakeTenantStore{tenants: []watch.Tenant{
		{ID: "t1", ReminderEnabled: true, ReminderHours: 24},
	}}
	snaps := &fakeSnapshotStore{snaps: map[string]watch.Snapshot{"t1": snap}}
	reminders := &fakeReminderStore{sent: map[string]bool{}}
	dispatcher := &capturingDispatcher{}
	clock := &fakeClock{now: sweepNow}
	s := NewSweeper(tenants, snaps, reminders, dispatcher, clock, zap.NewNop())
	return s, dispatcher, clock
}

func snapshotWithDue(due string) watch.Snapshot {
	return watch.Snapshot{
		Assignments: []watch.Assignment{
			{Course: "CS101", Name: "HW2", SubmitStatus: "Not Submitted", ClosedAt: due},
		},
	}
}

func TestSweepSendsInsideWindow(t *testing.T) {
	// Due in 6 hours, window 24h: inside.
	due := sweepNow.Add(6 * time.Hour).Format("Jan 2, 2006 at 3:04 PM")
	s, dispatcher, _ := newSweeper(snapshotWithDue(due))

	require.NoError(t, s.Sweep(context.Background()))
	require.Len(t, dispatcher.events, 1)
	require.Equal(t, notify.EventReminder, dispatcher.events[0].Type)
	require.Equal(t, "HW2", dispatcher.events[0].Task.Name)
}

func TestSweepSkipsOutsideWindow(t *testing.T) {
	// Due in 3 days: before the window opens.
	due := sweepNow.Add(72 * time.Hour).Format("Jan 2, 2006 at 3:04 PM")
	s, dispatcher, _ := newSweeper(snapshotWithDue(due))

	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, dispatcher.events)
}

func TestSweepSkipsPastDeadline(t *testing.T) {
	due := sweepNow.Add(-time.Hour).Format("Jan 2, 2006 at 3:04 PM")
	s, dispatcher, _ := newSweeper(snapshotWithDue(due))

	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, dispatcher.events)
}

func TestSweepSendsOncePerTaskForever(t *testing.T) {
	due := sweepNow.Add(6 * time.Hour).Format("Jan 2, 2006 at 3:04 PM")
	s, dispatcher, clock := newSweeper(snapshotWithDue(due))
	ctx := context.Background()

	require.NoError(t, s.Sweep(ctx))
	require.Len(t, dispatcher.events, 1)

	// An hour later the task is still in the window, but the permanent
	// record suppresses a second reminder.
	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, s.Sweep(ctx))
	require.Len(t, dispatcher.events, 1)
}

func TestSweepSkipsSubmittedAndGraded(t *testing.T) {
	due := sweepNow.Add(6 * time.Hour).Format("Jan 2, 2006 at 3:04 PM")
	snap := watch.Snapshot{
		Assignments: []watch.Assignment{
			{Course: "CS101", Name: "HW1", SubmitStatus: "Submitted", ClosedAt: due},
		},
		Quizzes: []watch.Quiz{
			{Course: "CS101", Name: "Quiz 1", Graded: true, ClosedAt: due},
		},
	}
	s, dispatcher, _ := newSweeper(snap)

	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, dispatcher.events)
}

func TestSweepSkipsUnparseableDue(t *testing.T) {
	s, dispatcher, _ := newSweeper(snapshotWithDue("sometime soon"))
	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, dispatcher.events)
}
