// Package breaker tracks consecutive failures per tenant and suspends
// automation when a threshold is crossed.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/errclass"
	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/watch"
)

// Breaker derives the live failure count from the most recent event in the
// failure log. There is no separately stored running counter, so the count
// under concurrent triggers is best effort, a documented race.
type Breaker struct {
	failures  watch.FailureLog
	tenants   watch.TenantStore
	clock     watch.Clock
	threshold int
	minLen    int
	logger    *zap.Logger
}

// New creates a Breaker with the given consecutive-failure threshold.
func New(failures watch.FailureLog, tenants watch.TenantStore, clock watch.Clock, threshold, minMessageLen int, logger *zap.Logger) *Breaker {
	metrics.Init()
	return &Breaker{
		failures:  failures,
		tenants:   tenants,
		clock:     clock,
		threshold: threshold,
		minLen:    minMessageLen,
		logger:    logger,
	}
}

// Outcome describes the breaker's reaction to one failure.
type Outcome struct {
	Count     int
	Counted   bool
	Suspended bool
	Reason    string
}

// RecordFailure logs a failure and suspends the tenant if this failure
// crosses the threshold exactly. GenericFailure and low-information
// messages are logged but never counted, so ambiguous noise cannot
// suspend a tenant.
func (b *Breaker) RecordFailure(ctx context.Context, tenantID string, cat errclass.Category, message string) (Outcome, error) {
	counted := errclass.Countable(cat, message) && len(strings.TrimSpace(message)) >= b.minLen

	count, err := b.currentCount(ctx, tenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("read failure count: %w", err)
	}
	if counted {
		count++
	}

	// Suspend only when the threshold is crossed by this very failure so
	// repeated failures while suspended do not re-alert.
	suspend := counted && count == b.threshold
	out := Outcome{Count: count, Counted: counted, Suspended: suspend}

	evt := watch.FailureEvent{
		TenantID:   tenantID,
		Category:   string(cat),
		Message:    message,
		Count:      count,
		Suspended:  suspend,
		OccurredAt: b.clock.Now(),
	}
	if err := b.failures.Append(ctx, evt); err != nil {
		return Outcome{}, fmt.Errorf("append failure event: %w", err)
	}

	if suspend {
		out.Reason = fmt.Sprintf("suspended after %d consecutive failures (last: %s)", count, cat)
		now := b.clock.Now()
		if err := b.tenants.SetSuspension(ctx, tenantID, true, out.Reason, &now); err != nil {
			return Outcome{}, fmt.Errorf("suspend tenant: %w", err)
		}
		metrics.ObserveSuspension()
		b.logger.Warn("tenant suspended",
			zap.String("tenant_id", tenantID),
			zap.Int("count", count),
			zap.String("category", string(cat)))
	}

	return out, nil
}

// RecordSuccess resets the failure count and re-enables automation if the
// tenant was suspended.
func (b *Breaker) RecordSuccess(ctx context.Context, tenantID string) error {
	evt := watch.FailureEvent{
		TenantID:   tenantID,
		Category:   "success",
		Message:    "job completed successfully",
		Count:      0,
		OccurredAt: b.clock.Now(),
	}
	if err := b.failures.Append(ctx, evt); err != nil {
		return fmt.Errorf("append success event: %w", err)
	}

	tenant, err := b.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if tenant.Suspended {
		if err := b.tenants.SetSuspension(ctx, tenantID, false, "", nil); err != nil {
			return fmt.Errorf("clear suspension: %w", err)
		}
		b.logger.Info("tenant suspension cleared after success",
			zap.String("tenant_id", tenantID))
	}
	return nil
}

// Resume is the manual override: it re-enables automation immediately
// without requiring a successful job first.
func (b *Breaker) Resume(ctx context.Context, tenantID string) error {
	if err := b.tenants.SetSuspension(ctx, tenantID, false, "", nil); err != nil {
		return fmt.Errorf("resume tenant: %w", err)
	}
	evt := watch.FailureEvent{
		TenantID:   tenantID,
		Category:   "success",
		Message:    "automation resumed manually",
		Count:      0,
		OccurredAt: b.clock.Now(),
	}
	if err := b.failures.Append(ctx, evt); err != nil {
		return fmt.Errorf("append resume event: %w", err)
	}
	b.logger.Info("tenant resumed manually", zap.String("tenant_id", tenantID))
	return nil
}

func (b *Breaker) currentCount(ctx context.Context, tenantID string) (int, error) {
	latest, err := b.failures.Latest(ctx, tenantID)
	if errors.Is(err, watch.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if latest.Category == "success" {
		return 0, nil
	}
	return latest.Count, nil
}
