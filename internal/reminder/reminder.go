// Package reminder sends one-time deadline reminders for open tasks.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/dates"
	"github.com/unishark/portalwatch/internal/notify"
	"github.com/unishark/portalwatch/internal/watch"
)

// Dispatcher is the notification fan-out the sweeper delivers through.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant watch.Tenant, event notify.Event) int
}

// Sweeper walks reminder-enabled tenants and alerts on tasks entering
// their reminder window. Reminders are permanent: at most one is ever
// sent per task, regardless of how many sweeps see it.
type Sweeper struct {
	tenants    watch.TenantStore
	snapshots  watch.SnapshotStore
	reminders  watch.ReminderStore
	dispatcher Dispatcher
	clock      watch.Clock
	logger     *zap.Logger
}

// NewSweeper creates a reminder Sweeper.
func NewSweeper(tenants watch.TenantStore, snapshots watch.SnapshotStore, reminders watch.ReminderStore, dispatcher Dispatcher, clock watch.Clock, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		tenants:    tenants,
		snapshots:  snapshots,
		reminders:  reminders,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
	}
}

// Sweep checks every reminder-enabled tenant once. Per-tenant errors are
// logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	tenants, err := s.tenants.ListReminderEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list reminder tenants: %w", err)
	}
	for _, tenant := range tenants {
		if err := s.sweepTenant(ctx, tenant); err != nil {
			s.logger.Error("reminder sweep failed for tenant",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenant watch.Tenant) error {
	snap, err := s.snapshots.LatestSnapshot(ctx, tenant.ID)
	if errors.Is(err, watch.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	window := time.Duration(tenant.ReminderHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := s.clock.Now()

	for _, task := range openTasks(snap) {
		due, ok := dates.ParseDeadline(task.rawDue, now)
		if !ok {
			continue
		}
		// Window is [due - reminder_hours, due): nothing before it opens,
		// nothing once the deadline passed.
		if now.Before(due.Add(-window)) || !now.Before(due) {
			continue
		}

		key := task.key()
		sent, err := s.reminders.ReminderSent(ctx, tenant.ID, key)
		if err != nil {
			return fmt.Errorf("check reminder record: %w", err)
		}
		if sent {
			continue
		}

		// Record before sending so a crash or concurrent sweep cannot
		// produce a second reminder for the same task.
		rec := watch.ReminderRecord{TenantID: tenant.ID, TaskKey: key, SentAt: now}
		if err := s.reminders.RecordReminder(ctx, rec); err != nil {
			return fmt.Errorf("record reminder: %w", err)
		}

		s.dispatcher.Dispatch(ctx, tenant, notify.Event{
			Type: notify.EventReminder,
			Task: notify.ReminderTask{
				TaskType: task.taskType,
				Course:   task.course,
				Name:     task.name,
				Due:      due,
			},
		})
		s.logger.Info("deadline reminder sent",
			zap.String("tenant_id", tenant.ID),
			zap.String("task", key))
	}
	return nil
}

type task struct {
	taskType string
	course   string
	name     string
	rawDue   string
}

func (t task) key() string {
	return t.taskType + "/" + t.course + "/" + t.name
}

// openTasks collects the tasks still awaiting action: assignments not yet
// submitted and quizzes without a grade.
func openTasks(snap watch.Snapshot) []task {
	var tasks []task
	for _, a := range snap.Assignments {
		if isSubmitted(a.SubmitStatus) {
			continue
		}
		tasks = append(tasks, task{taskType: "Assignment", course: a.Course, name: a.Name, rawDue: a.ClosedAt})
	}
	for _, q := range snap.Quizzes {
		if q.Graded {
			continue
		}
		tasks = append(tasks, task{taskType: "Quiz", course: q.Course, name: q.Name, rawDue: q.ClosedAt})
	}
	return tasks
}

func isSubmitted(status string) bool {
	lower := strings.ToLower(status)
	return strings.Contains(lower, "submitted") && !strings.Contains(lower, "not submitted")
}
