// Package session drives an authenticated browser session against the
// portal: login with CAPTCHA handling, page navigation and extraction.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unishark/portalwatch/internal/watch"
)

// Config controls the behavior of the session engine.
type Config struct {
	BaseURL       string
	UserAgent     string
	MaxParallel   int
	LoginAttempts int
	NavRetries    int
	PageTimeout   time.Duration
	NavQPS        float64
}

// Engine owns a shared browser allocator. Each Run gets its own tab
// context so tenant sessions are isolated; a semaphore bounds concurrent
// sessions and a rate limiter paces navigations against the portal.
type Engine struct {
	cfg         Config
	limiter     chan struct{}
	nav         *rate.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	solver      watch.Solver
	logger      *zap.Logger
}

// NewEngine creates an Engine backed by headless Chrome.
func NewEngine(cfg Config, solver watch.Solver, logger *zap.Logger) (*Engine, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal base url is required")
	}
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = 3
	}
	if cfg.NavRetries <= 0 {
		cfg.NavRetries = 2
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}
	if cfg.NavQPS <= 0 {
		cfg.NavQPS = 0.5
	}

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		limiter:     limiter,
		nav:         rate.NewLimiter(rate.Limit(cfg.NavQPS), 1),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		solver:      solver,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (e *Engine) Close() {
	e.allocCancel()
}

// Credentials identify one portal account for a run. SolverKeys, when set,
// override the service-level captcha provider credentials for this run.
type Credentials struct {
	Username   string
	Password   string
	SolverKeys watch.SolverKeys
}

// Run logs in and extracts all target pages into a snapshot. Login errors
// are fatal; page-level extraction errors are recorded in the snapshot
// unless the session itself died.
func (e *Engine) Run(ctx context.Context, creds Credentials) (watch.Snapshot, error) {
	if err := e.acquire(ctx); err != nil {
		return watch.Snapshot{}, err
	}
	defer e.release()

	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	defer tabCancel()
	if creds.SolverKeys != (watch.SolverKeys{}) {
		tabCtx = watch.WithSolverKeys(tabCtx, creds.SolverKeys)
	}

	// The tab context dies with the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()

	if err := chromedp.Run(tabCtx, e.sessionSetup()); err != nil {
		return watch.Snapshot{}, &PortalError{Op: "session setup", Err: err}
	}

	s := &session{engine: e, ctx: tabCtx, logger: e.logger}
	if err := s.login(ctx, creds); err != nil {
		return watch.Snapshot{}, err
	}
	return s.extractAll(ctx)
}

func (e *Engine) sessionSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

// PortalError carries the page content available when an operation failed,
// so the classifier can inspect what the portal actually showed.
type PortalError struct {
	Op   string
	Page string
	Err  error
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PortalError) Unwrap() error { return e.Err }

// PageContent extracts the page content attached to err, if any.
func PageContent(err error) string {
	var pe *PortalError
	if errors.As(err, &pe) {
		return pe.Page
	}
	return ""
}
