// Package worker implements the scrape job execution loop.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/watch"
)

// Executor runs one dequeued job to completion.
type Executor interface {
	Execute(ctx context.Context, item watch.QueueItem) error
}

// Config controls Pool behavior.
type Config struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// Pool consumes queue items and executes the scrape pipeline. Failed jobs
// are re-enqueued with a fixed delay until their retry budget runs out.
type Pool struct {
	queue  watch.Queue
	ids    watch.IDGenerator
	jobs   watch.JobStore
	clock  watch.Clock
	exec   Executor
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pool.
func New(queue watch.Queue, ids watch.IDGenerator, jobs watch.JobStore, clock watch.Clock, exec Executor, cfg Config, logger *zap.Logger) *Pool {
	metrics.Init()
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	return &Pool{
		queue:  queue,
		ids:    ids,
		jobs:   jobs,
		clock:  clock,
		exec:   exec,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With(zap.Int("worker", worker))
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued job",
			zap.String("job_id", item.JobID),
			zap.String("lane", string(watch.LaneFor(item.Trigger))))
		p.processItem(ctx, logger, item)
	}
}

func (p *Pool) processItem(ctx context.Context, logger *zap.Logger, item watch.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := p.clock.Now()
	err := p.exec.Execute(ctx, item)
	elapsed := p.clock.Now().Sub(start)

	if err == nil {
		metrics.ObserveJob("succeeded", string(item.Trigger), elapsed)
		return
	}
	metrics.ObserveJob("failed", string(item.Trigger), elapsed)

	if item.Attempt+1 > p.cfg.MaxRetries {
		logger.Warn("job retries exhausted",
			zap.String("job_id", item.JobID),
			zap.Int("attempts", item.Attempt+1),
			zap.Error(err))
		return
	}
	p.scheduleRetry(ctx, logger, item)
}

// scheduleRetry re-enqueues the item after the fixed delay. A fresh job
// record keeps each attempt visible in the job history.
func (p *Pool) scheduleRetry(ctx context.Context, logger *zap.Logger, item watch.QueueItem) {
	retry := item
	retry.Attempt = item.Attempt + 1
	retry.Submitted = p.clock.Now().Unix()

	jobID, err := p.ids.NewID()
	if err != nil {
		logger.Error("retry job id generation failed",
			zap.String("job_id", item.JobID),
			zap.Error(err))
		return
	}
	retry.JobID = jobID

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.RetryDelay):
		}

		job := watch.Job{
			ID:        retry.JobID,
			TenantID:  retry.TenantID,
			Trigger:   retry.Trigger,
			Status:    watch.JobStatusQueued,
			Submitted: p.clock.Now(),
		}
		if err := p.jobs.CreateJob(ctx, job); err != nil {
			logger.Error("retry job creation failed",
				zap.String("job_id", retry.JobID),
				zap.Error(err))
			return
		}
		if err := p.queue.Enqueue(ctx, retry); err != nil {
			logger.Error("retry enqueue failed",
				zap.String("job_id", retry.JobID),
				zap.Error(err))
			return
		}
		logger.Info("job re-enqueued for retry",
			zap.String("job_id", retry.JobID),
			zap.String("tenant_id", retry.TenantID),
			zap.Int("attempt", retry.Attempt))
	}()
}
