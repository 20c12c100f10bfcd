// Package captcha solves challenge images through a two-provider fallback
// chain.
package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/watch"
)

var (
	// ErrNotConfigured marks a provider with no credential.
	ErrNotConfigured = errors.New("captcha provider not configured")
	// ErrSolverUnavailable marks the user-actionable condition where no
	// provider could be used at all, distinct from a transient solving
	// failure.
	ErrSolverUnavailable = errors.New("solver unavailable: no captcha provider configured or all exhausted")
)

// provider pairs a solver with a name for logging.
type provider struct {
	name   string
	solver watch.Solver
}

// Chain tries providers in order, falling through on any error.
type Chain struct {
	providers []provider
	logger    *zap.Logger
}

// NewChain builds a chain from the ordered providers. Nil solvers are
// skipped.
func NewChain(logger *zap.Logger, primary, fallback watch.Solver) *Chain {
	metrics.Init()
	c := &Chain{logger: logger}
	if primary != nil {
		c.providers = append(c.providers, provider{name: "task_api", solver: primary})
	}
	if fallback != nil {
		c.providers = append(c.providers, provider{name: "recognition", solver: fallback})
	}
	return c
}

// Solve returns the first successful solution. Unconfigured providers are
// skipped without consuming time; any other provider error falls through
// immediately to the next one. When no provider was usable the chain
// reports ErrSolverUnavailable so callers can route it to the
// user-actionable category.
func (c *Chain) Solve(ctx context.Context, image []byte) (string, error) {
	var lastErr error
	attempted := 0

	for _, p := range c.providers {
		text, err := p.solver.Solve(ctx, image)
		if err == nil {
			metrics.ObserveCaptchaSolve(p.name, "solved")
			c.logger.Info("captcha solved", zap.String("provider", p.name))
			return text, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			c.logger.Debug("captcha provider skipped", zap.String("provider", p.name))
			continue
		}
		metrics.ObserveCaptchaSolve(p.name, "failed")
		attempted++
		lastErr = err
		c.logger.Warn("captcha provider failed, falling through",
			zap.String("provider", p.name),
			zap.Error(err))
		if ctx.Err() != nil {
			return "", fmt.Errorf("captcha chain aborted: %w", ctx.Err())
		}
	}

	if attempted == 0 {
		return "", ErrSolverUnavailable
	}
	return "", fmt.Errorf("%w: last provider error: %v", ErrSolverUnavailable, lastErr)
}
