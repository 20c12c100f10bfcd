package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const (
	loginPath        = "/Login.aspx"
	usernameSel      = "#txtname"
	passwordSel      = "#txtPass"
	captchaInputSel  = "#txt_captcha"
	loginButtonSel   = "#btn_login"
	genericSubmitSel = "input[type='submit'], button[type='submit']"
)

// captchaImageSelectors are tried in order; the portal has shipped both
// the misspelled and the corrected container class.
var captchaImageSelectors = []string{
	"div.captach img",
	"div.captcha img",
	".captcha img",
	"img[src*='captcha']",
	"#captcha img",
}

// dashboardMarkers are the alternative authenticated-area markers; any one
// of them confirms a successful login.
var dashboardMarkers = []string{
	"a[href='/Profile/StudentProfile']",
	".navbar-nav",
	"[href*='Profile']",
	".user-menu",
}

// session is one authenticated tab driving the portal for a single run.
type session struct {
	engine *Engine
	ctx    context.Context
	logger *zap.Logger
}

// login performs bounded login attempts. Each attempt reloads the login
// page, so a stale CAPTCHA from a failed attempt can never leak into the
// next one.
func (s *session) login(ctx context.Context, creds Credentials) error {
	var lastErr error
	for attempt := 1; attempt <= s.engine.cfg.LoginAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("login canceled: %w", ctx.Err())
		}
		s.logger.Info("login attempt",
			zap.Int("attempt", attempt),
			zap.Int("max", s.engine.cfg.LoginAttempts))

		err := s.loginOnce(ctx, creds)
		if err == nil {
			s.logger.Info("login succeeded", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		s.logger.Warn("login attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		// Credential rejections will not improve on retry.
		if pe, ok := err.(*PortalError); ok && pe.Op == "credential check" {
			return err
		}
	}
	return fmt.Errorf("login failed after %d attempts: %w", s.engine.cfg.LoginAttempts, lastErr)
}

func (s *session) loginOnce(ctx context.Context, creds Credentials) error {
	if err := s.engine.nav.Wait(ctx); err != nil {
		return fmt.Errorf("nav pacing: %w", err)
	}

	pageCtx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.PageTimeout)
	defer cancel()

	err := chromedp.Run(pageCtx,
		chromedp.Navigate(s.engine.cfg.BaseURL+loginPath),
		chromedp.WaitVisible(usernameSel, chromedp.ByQuery),
		chromedp.Clear(usernameSel, chromedp.ByQuery),
		chromedp.SendKeys(usernameSel, creds.Username, chromedp.ByQuery),
		chromedp.Clear(passwordSel, chromedp.ByQuery),
		chromedp.SendKeys(passwordSel, creds.Password, chromedp.ByQuery),
	)
	if err != nil {
		return &PortalError{Op: "load login page", Err: err}
	}

	present, imageSel, err := s.captchaPresent(pageCtx)
	if err != nil {
		return &PortalError{Op: "captcha probe", Err: err}
	}
	if present {
		if err := s.solveCaptcha(pageCtx, imageSel); err != nil {
			return err
		}
	}

	if err := s.submit(pageCtx); err != nil {
		return err
	}
	return s.verifyLogin(pageCtx)
}

// captchaPresent probes for a CAPTCHA. The input field existing is not
// sufficient: it must be visible and a challenge image must actually have
// rendered. Absence of either means no CAPTCHA this time.
func (s *session) captchaPresent(ctx context.Context) (bool, string, error) {
	var inputVisible bool
	err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return el !== null && el.offsetParent !== null;
	})()`, captchaInputSel), &inputVisible))
	if err != nil {
		return false, "", fmt.Errorf("probe captcha input: %w", err)
	}
	if !inputVisible {
		return false, "", nil
	}

	for _, sel := range captchaImageSelectors {
		var rendered bool
		err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`(() => {
			const img = document.querySelector(%q);
			return img !== null && img.complete && img.naturalWidth > 0;
		})()`, sel), &rendered))
		if err != nil {
			return false, "", fmt.Errorf("probe captcha image: %w", err)
		}
		if rendered {
			return true, sel, nil
		}
	}
	return false, "", nil
}

func (s *session) solveCaptcha(ctx context.Context, imageSel string) error {
	var image []byte
	err := chromedp.Run(ctx,
		chromedp.ScrollIntoView(imageSel, chromedp.ByQuery),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.Screenshot(imageSel, &image, chromedp.ByQuery),
	)
	if err != nil {
		return &PortalError{Op: "capture captcha", Err: err}
	}

	solution, err := s.engine.solver.Solve(ctx, image)
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}

	err = chromedp.Run(ctx,
		chromedp.Clear(captchaInputSel, chromedp.ByQuery),
		chromedp.SendKeys(captchaInputSel, solution, chromedp.ByQuery),
	)
	if err != nil {
		return &PortalError{Op: "fill captcha", Err: err}
	}
	return nil
}

// submitStrategy is one way of submitting the login form.
type submitStrategy struct {
	name   string
	action func(ctx context.Context) error
}

// submitStrategies returns the ordered submission fallbacks: the named
// login control, a generic submit control, the Enter key, and finally a
// scripted form submission.
func (s *session) submitStrategies() []submitStrategy {
	return []submitStrategy{
		{name: "login button", action: func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Click(loginButtonSel, chromedp.ByQuery, chromedp.NodeVisible))
		}},
		{name: "generic submit", action: func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Click(genericSubmitSel, chromedp.ByQuery, chromedp.NodeVisible))
		}},
		{name: "enter key", action: func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.SendKeys(passwordSel, kb.Enter, chromedp.ByQuery))
		}},
		{name: "scripted submit", action: func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`document.forms[0].submit()`, nil))
		}},
	}
}

func (s *session) submit(ctx context.Context) error {
	var lastErr error
	for _, strat := range s.submitStrategies() {
		// Each strategy gets a short window; the first that does not error
		// wins and verification decides whether it worked.
		stratCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := strat.action(stratCtx)
		cancel()
		if err == nil {
			s.logger.Debug("form submitted", zap.String("strategy", strat.name))
			return nil
		}
		lastErr = err
		s.logger.Debug("submission strategy failed",
			zap.String("strategy", strat.name),
			zap.Error(err))
	}
	return &PortalError{Op: "submit login form", Err: lastErr}
}

// verifyLogin requires both navigation away from the login resource and at
// least one authenticated-area marker. When verification fails, the page
// content decides the failure cause.
func (s *session) verifyLogin(ctx context.Context) error {
	var location string
	err := chromedp.Run(ctx, chromedp.Poll(
		fmt.Sprintf(`!window.location.href.includes(%q)`, loginPath),
		nil,
		chromedp.WithPollingTimeout(s.engine.cfg.PageTimeout),
	), chromedp.Location(&location))
	if err != nil {
		return s.loginFailure(ctx, "login form submission timeout")
	}

	marker := anyMarkerExpr(dashboardMarkers)
	var found bool
	err = chromedp.Run(ctx, chromedp.Poll(marker, &found,
		chromedp.WithPollingTimeout(30*time.Second)))
	if err != nil || !found {
		return &PortalError{Op: "verify login", Page: s.pageText(ctx),
			Err: fmt.Errorf("no authenticated-area marker found at %s", location)}
	}
	return nil
}

// loginFailure inspects the page to distinguish credential rejection,
// CAPTCHA rejection, submission timeout and unexpected destinations.
func (s *session) loginFailure(ctx context.Context, fallback string) error {
	page := s.pageText(ctx)
	op, cause := loginFailureCause(page, fallback)
	return &PortalError{Op: op, Page: page, Err: fmt.Errorf("%s", cause)}
}

// loginFailureCause maps the visible page text to a failure cause. Kept
// pure for testing.
func loginFailureCause(pageText, fallback string) (op, cause string) {
	lower := strings.ToLower(pageText)
	switch {
	case strings.Contains(lower, "wrong captcha"):
		return "captcha check", "captcha rejected by portal"
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "incorrect"),
		strings.Contains(lower, "wrong"):
		return "credential check", "invalid credentials"
	default:
		return "login", fallback
	}
}

func (s *session) pageText(ctx context.Context) string {
	var text string
	if err := chromedp.Run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return ""
	}
	return text
}

// anyMarkerExpr builds a JS expression that is true when any selector
// matches.
func anyMarkerExpr(selectors []string) string {
	parts := make([]string, len(selectors))
	for i, sel := range selectors {
		parts[i] = fmt.Sprintf("document.querySelector(%q) !== null", sel)
	}
	return strings.Join(parts, " || ")
}
