package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/extract"
	"github.com/unishark/portalwatch/internal/watch"
)

// errSessionInvalid aborts extraction of the remaining pages.
var errSessionInvalid = errors.New("session invalid")

// pageSpec describes one fixed target page.
type pageSpec struct {
	name         string
	path         string
	marker       string
	expandPanels bool
	apply        func(snap *watch.Snapshot, html string) error
}

// targetPages are the fixed pages extracted on every run.
var targetPages = []pageSpec{
	{
		name:         "quizzes",
		path:         "/Quizzes/StudentQuizzes",
		marker:       "section.course-item",
		expandPanels: true,
		apply: func(snap *watch.Snapshot, html string) error {
			quizzes, err := extract.Quizzes(html)
			if err != nil {
				return err
			}
			snap.Quizzes = quizzes
			return nil
		},
	},
	{
		name:         "assignments",
		path:         "/Assignment/AssignmentStudentList",
		marker:       "section.course-item",
		expandPanels: true,
		apply: func(snap *watch.Snapshot, html string) error {
			assignments, err := extract.Assignments(html)
			if err != nil {
				return err
			}
			snap.Assignments = assignments
			return nil
		},
	},
	{
		name:         "absences",
		path:         "/SemesterWorks/absence",
		marker:       "div.panel-group.course-grp",
		expandPanels: true,
		apply: func(snap *watch.Snapshot, html string) error {
			absences, err := extract.Absences(html)
			if err != nil {
				return err
			}
			snap.Absences = absences
			return nil
		},
	},
	{
		name:   "registration",
		path:   "/Registered/CoursesRegisteration",
		marker: "#courses-items",
		apply: func(snap *watch.Snapshot, html string) error {
			reg, err := extract.CourseRegistration(html)
			if err != nil {
				return err
			}
			snap.Offerings = reg.Courses
			snap.RegistrationEnds = reg.EndDate
			return nil
		},
	},
}

// setPageError records a page-level failure on the snapshot.
func setPageError(snap *watch.Snapshot, page, msg string) {
	switch page {
	case "quizzes":
		snap.QuizzesErr = msg
	case "assignments":
		snap.AssignmentsErr = msg
	case "absences":
		snap.AbsencesErr = msg
	case "registration":
		snap.OfferingsErr = msg
	}
}

// extractAll visits every target page. Page failures are recorded on the
// snapshot and extraction continues, unless the session itself became
// invalid, which abandons the remaining pages immediately.
func (s *session) extractAll(ctx context.Context) (watch.Snapshot, error) {
	var snap watch.Snapshot
	for _, page := range targetPages {
		if err := s.extractPage(ctx, page, &snap); err != nil {
			if errors.Is(err, errSessionInvalid) {
				return snap, &PortalError{Op: "extract " + page.name, Page: s.pageText(s.ctx),
					Err: fmt.Errorf("session expired, abandoning remaining pages")}
			}
			s.logger.Warn("page extraction failed, continuing",
				zap.String("page", page.name),
				zap.Error(err))
			setPageError(&snap, page.name, err.Error())
		}
	}
	return snap, nil
}

func (s *session) extractPage(ctx context.Context, page pageSpec, snap *watch.Snapshot) error {
	if err := s.alive(); err != nil {
		return errSessionInvalid
	}
	if err := s.navigate(ctx, page); err != nil {
		return err
	}
	if page.expandPanels {
		s.expandCoursePanels(page.name)
	}

	var html string
	pageCtx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.PageTimeout)
	defer cancel()
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("capture page html: %w", err)
	}

	if isLoginPage(html) {
		return errSessionInvalid
	}
	return page.apply(snap, html)
}

// alive is the cheap no-op call verifying the browser still answers.
func (s *session) alive() error {
	aliveCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	var one int
	if err := chromedp.Run(aliveCtx, chromedp.Evaluate(`1`, &one)); err != nil {
		return fmt.Errorf("session liveness check: %w", err)
	}
	return nil
}

// navigate loads the page with bounded retries, waiting for its marker
// with a content-based fallback: no marker but non-trivial body text means
// proceed anyway.
func (s *session) navigate(ctx context.Context, page pageSpec) error {
	url := s.engine.cfg.BaseURL + page.path
	var lastErr error

	for attempt := 1; attempt <= s.engine.cfg.NavRetries; attempt++ {
		if err := s.engine.nav.Wait(ctx); err != nil {
			return fmt.Errorf("nav pacing: %w", err)
		}

		pageCtx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.PageTimeout)
		err := chromedp.Run(pageCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("navigate to %s: %w", page.name, err)
			continue
		}

		markerCtx, markerCancel := context.WithTimeout(s.ctx, s.engine.cfg.PageTimeout)
		err = chromedp.Run(markerCtx, chromedp.WaitVisible(page.marker, chromedp.ByQuery))
		markerCancel()
		if err == nil {
			cancel()
			return nil
		}

		// Marker missing. If the page still carries content, proceed;
		// empty pages retry.
		var bodyText string
		err = chromedp.Run(pageCtx, chromedp.Text("body", &bodyText, chromedp.ByQuery))
		cancel()
		if err == nil && len(strings.TrimSpace(bodyText)) > 0 {
			s.logger.Debug("page marker missing but content present, proceeding",
				zap.String("page", page.name))
			return nil
		}
		lastErr = fmt.Errorf("page %s loaded empty", page.name)
	}
	return fmt.Errorf("navigation failed after %d attempts: %w", s.engine.cfg.NavRetries, lastErr)
}

// expandCoursePanels clicks every collapsed course toggle and waits
// briefly for the panels to open. Per-course expansion failures are
// non-fatal to the page.
func (s *session) expandCoursePanels(page string) {
	expandCtx, cancel := context.WithTimeout(s.ctx, 20*time.Second)
	defer cancel()

	var failed int
	err := chromedp.Run(expandCtx,
		chromedp.Evaluate(`(() => {
			let failed = 0;
			document.querySelectorAll('a.accordion-toggle').forEach(toggle => {
				try {
					const panel = toggle.closest('.panel-group, section.course-item')
						?.querySelector('.panel-collapse');
					if (panel && !panel.classList.contains('in')) {
						toggle.click();
					}
				} catch (e) {
					failed++;
				}
			});
			return failed;
		})()`, &failed),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		s.logger.Warn("course panel expansion failed",
			zap.String("page", page),
			zap.Error(err))
		return
	}
	if failed > 0 {
		s.logger.Warn("some course panels could not be expanded",
			zap.String("page", page),
			zap.Int("failed", failed))
	}
}

// isLoginPage detects the portal bouncing an expired session back to the
// login form. Kept pure for testing.
func isLoginPage(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, strings.ToLower(loginPath)) &&
		strings.Contains(lower, "txtname")
}
