// Package sched triggers due background scrapes and deadline-reminder
// sweeps on cron schedules.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/watch"
)

// Sweeper runs one reminder pass over all eligible tenants.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Config holds the two cron expressions driving the scheduler.
type Config struct {
	SweepSpec    string
	ReminderSpec string
}

// Scheduler enqueues background jobs for due tenants and kicks the
// reminder sweeper.
type Scheduler struct {
	cfg      Config
	tenants  watch.TenantStore
	jobs     watch.JobStore
	queue    watch.Queue
	ids      watch.IDGenerator
	clock    watch.Clock
	reminder Sweeper
	engine   *cron.Cron
	logger   *zap.Logger
}

// New creates a Scheduler. The cron entries are registered but not started.
func New(
	cfg Config,
	tenants watch.TenantStore,
	jobs watch.JobStore,
	queue watch.Queue,
	ids watch.IDGenerator,
	clock watch.Clock,
	reminder Sweeper,
	logger *zap.Logger,
) (*Scheduler, error) {
	s := &Scheduler{
		cfg:      cfg,
		tenants:  tenants,
		jobs:     jobs,
		queue:    queue,
		ids:      ids,
		clock:    clock,
		reminder: reminder,
		engine:   cron.New(),
		logger:   logger,
	}

	if _, err := s.engine.AddFunc(cfg.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.SweepDueTenants(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("register sweep schedule %q: %w", cfg.SweepSpec, err)
	}

	if s.reminder != nil {
		if _, err := s.engine.AddFunc(cfg.ReminderSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.reminder.Sweep(ctx); err != nil {
				s.logger.Error("reminder sweep failed", zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("register reminder schedule %q: %w", cfg.ReminderSpec, err)
		}
	}

	return s, nil
}

// Start begins firing the cron entries.
func (s *Scheduler) Start() {
	s.engine.Start()
	s.logger.Info("scheduler started",
		zap.String("sweep_spec", s.cfg.SweepSpec),
		zap.String("reminder_spec", s.cfg.ReminderSpec))
}

// Stop halts the cron engine and waits for running entries to finish.
func (s *Scheduler) Stop() {
	<-s.engine.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// SweepDueTenants enqueues one background job per automated tenant whose
// interval has elapsed since its last job, counting any outcome as the
// last attempt.
func (s *Scheduler) SweepDueTenants(ctx context.Context) error {
	tenants, err := s.tenants.ListAutomated(ctx)
	if err != nil {
		return fmt.Errorf("list automated tenants: %w", err)
	}

	now := s.clock.Now()
	var enqueued int
	for _, tenant := range tenants {
		due, err := s.isDue(ctx, tenant, now)
		if err != nil {
			s.logger.Warn("due check failed, skipping tenant",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err))
			continue
		}
		if !due {
			continue
		}
		if err := s.enqueueJob(ctx, tenant); err != nil {
			s.logger.Error("failed to enqueue background job",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err))
			continue
		}
		enqueued++
	}

	s.logger.Info("sweep finished",
		zap.Int("tenants", len(tenants)),
		zap.Int("enqueued", enqueued))
	return nil
}

func (s *Scheduler) isDue(ctx context.Context, tenant watch.Tenant, now time.Time) (bool, error) {
	last, err := s.jobs.LastJobTime(ctx, tenant.ID)
	if errors.Is(err, watch.ErrNotFound) {
		// Never scraped before.
		return true, nil
	}
	if err != nil {
		return false, err
	}

	interval := time.Duration(tenant.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return !now.Before(last.Add(interval)), nil
}

func (s *Scheduler) enqueueJob(ctx context.Context, tenant watch.Tenant) error {
	jobID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}

	now := s.clock.Now()
	job := watch.Job{
		ID:        jobID,
		TenantID:  tenant.ID,
		Trigger:   watch.TriggerBackground,
		Status:    watch.JobStatusQueued,
		Submitted: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	item := watch.QueueItem{
		JobID:     jobID,
		TenantID:  tenant.ID,
		Trigger:   watch.TriggerBackground,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Debug("background job enqueued",
		zap.String("job_id", jobID),
		zap.String("tenant_id", tenant.ID))
	return nil
}
