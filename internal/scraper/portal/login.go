package portal

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/scraper/browser"
)

// Per-step wait bounds. Each DOM or network wait is bounded on its own;
// there is no whole-login deadline beyond the caller's context.
const (
	ctaFindTimeout    = 5 * time.Second
	ctaSettleTimeout  = 10 * time.Second
	formGateTimeout   = 20 * time.Second
	fieldTimeout      = 15 * time.Second
	submitFindTimeout = 10 * time.Second

	// interFieldDelay separates the two credential fields; typing into the
	// password field while the username field's change handlers still run
	// loses keystrokes on this portal.
	interFieldDelay = 500 * time.Millisecond

	navSettleTimeout  = 15 * time.Second
	authCallTimeout   = 10 * time.Second
	urlSettleTimeout  = 10 * time.Second
	docReadyTimeout   = 10 * time.Second
	postLoginSettle   = 2 * time.Second
)

// Login drives the full login flow: Start, an optional CTA click revealing
// the form, credential entry, submit, then a best-effort settle. Only two
// conditions fail the attempt: a credential field that cannot be located,
// and a submit control that cannot be found or clicked. Every pure wait
// signal is tolerated when missed; the portal's UI is a moving target and
// partial observability is the normal case.
func (s *Scraper) Login(ctx context.Context) error {
	if !s.acquired() {
		return &ScrapeError{Op: "Login", Cause: ErrBrowserUnavailable, Details: "session not acquired"}
	}
	s.countLogin()
	page := s.page.Context(ctx)

	// 1. Start: navigate to the portal root
	if err := page.Timeout(s.timeout).Navigate(s.cfg.RootURL); err != nil {
		return &ScrapeError{Op: "Login", Cause: err, Details: fmt.Sprintf("navigate to %s", s.cfg.RootURL)}
	}
	if err := page.Timeout(s.timeout).WaitLoad(); err != nil {
		slog.DebugContext(ctx, "root load signal missed", "err", err)
	}

	// 2. CtaRevealed: some variants hide the form behind a landing CTA
	s.clickCTAIfPresent(ctx, page)

	// 3. FormVisible: readiness gate, not a verdict; the field locator
	// below is what decides whether the form is really there.
	if _, err := page.Timeout(formGateTimeout).Element(SelectorLoginForm); err != nil {
		slog.DebugContext(ctx, "form gate missed, proceeding to locator", "err", err)
	}

	// 4. CredentialsEntered
	userEl, err := browser.Locate(page, browser.Target{
		Selector: orDefault(s.cfg.UsernameSelector, SelectorUsernameInput),
		Label:    orDefault(s.cfg.UsernameLabel, LabelUsername),
		Timeout:  fieldTimeout,
	})
	if err != nil {
		return &ScrapeError{Op: "Login", Cause: ErrLocatorNotFound, Details: fmt.Sprintf("username field: %v", err)}
	}
	if err := browser.Replace(userEl, s.cfg.Username, s.typeFn); err != nil {
		return &ScrapeError{Op: "Login", Cause: err, Details: "typing username"}
	}

	time.Sleep(interFieldDelay)

	passEl, err := browser.Locate(page, browser.Target{
		Selector: orDefault(s.cfg.PasswordSelector, SelectorPasswordInput),
		Label:    orDefault(s.cfg.PasswordLabel, LabelPassword),
		Timeout:  fieldTimeout,
	})
	if err != nil {
		return &ScrapeError{Op: "Login", Cause: ErrLocatorNotFound, Details: fmt.Sprintf("password field: %v", err)}
	}
	if err := browser.Replace(passEl, s.cfg.Password, s.typeFn); err != nil {
		return &ScrapeError{Op: "Login", Cause: err, Details: "typing password"}
	}

	// 5. Submitted
	if err := s.clickSubmit(page); err != nil {
		return err
	}

	// 6. PostLoginSettled
	if err := s.settlePostLogin(ctx, page); err != nil {
		return err
	}

	slog.InfoContext(ctx, "portal login sequence completed")
	return nil
}

// clickCTAIfPresent clicks the landing call-to-action when one renders, and
// gives the revealed form a bounded chance to settle. Every miss here is
// non-fatal: variants without the CTA land on the form directly.
func (s *Scraper) clickCTAIfPresent(ctx context.Context, page *rod.Page) {
	label := orDefault(s.cfg.CTALabel, LabelCTA)

	el, err := page.Timeout(ctaFindTimeout).ElementR("button, a", exactTextPattern(label))
	if err != nil {
		slog.DebugContext(ctx, "no landing CTA, assuming direct form", "label", label)
		return
	}
	if err := el.CancelTimeout().Click(proto.InputMouseButtonLeft, 1); err != nil {
		slog.DebugContext(ctx, "CTA click failed, proceeding", "err", err)
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, ctaSettleTimeout)
	defer cancel()
	if err := waitURLFragment(settleCtx, page, "/login"); err != nil {
		slog.DebugContext(ctx, "CTA settle signal missed, proceeding", "err", err)
	}
}

// clickSubmit resolves the submit control in three tiers: explicit
// selector, configured label against button text, then generic candidates
// filtered by visible text. Exhausting all three is the one hard login
// failure.
func (s *Scraper) clickSubmit(page *rod.Page) error {
	selector := orDefault(s.cfg.SubmitSelector, SelectorSubmitButton)
	label := orDefault(s.cfg.SubmitLabel, LabelSubmit)

	if el, err := page.Timeout(submitFindTimeout).Element(selector); err == nil {
		if err := el.CancelTimeout().Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	if el, err := page.Timeout(submitFindTimeout).ElementR("button", exactTextPattern(label)); err == nil {
		if err := el.CancelTimeout().Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	if el, err := browser.ElementByVisibleText(page, submitCandidates, label); err == nil {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	return &ScrapeError{
		Op:      "Login",
		Cause:   ErrLoginFailed,
		Details: fmt.Sprintf("no submit control matched selector %q or label %q", selector, label),
	}
}

// --- POST-LOGIN SETTLE ---

// waitStep is one entry of the post-login readiness table: an independent
// signal with its own bound. Only required steps can abort the sequence.
type waitStep struct {
	name     string
	timeout  time.Duration
	required bool
	run      func(ctx context.Context) error
}

// settlePostLogin waits for the ordered readiness signals. The table is all
// best-effort today; the shape stays declarative so a signal can be made
// required without touching the sequencing.
func (s *Scraper) settlePostLogin(ctx context.Context, page *rod.Page) error {
	steps := []waitStep{
		{name: "navigation", timeout: navSettleTimeout, run: func(c context.Context) error {
			return waitNavigation(c, page)
		}},
		{name: "auth refresh call", timeout: authCallTimeout, run: func(c context.Context) error {
			return waitRequestURLContains(c, page, qris.RefreshPath)
		}},
		{name: "post-login url", timeout: urlSettleTimeout, run: func(c context.Context) error {
			return waitURLFragment(c, page, postLoginPaths...)
		}},
		{name: "document ready", timeout: docReadyTimeout, run: func(c context.Context) error {
			return page.Context(c).WaitLoad()
		}},
		{name: "settle delay", timeout: postLoginSettle + time.Second, run: func(c context.Context) error {
			return sleepCtx(c, postLoginSettle)
		}},
	}

	return runWaitSteps(ctx, steps)
}

// runWaitSteps evaluates a wait table in order. Missed optional signals are
// logged and swallowed; a missed required signal aborts.
func runWaitSteps(ctx context.Context, steps []waitStep) error {
	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.timeout)
		err := step.run(stepCtx)
		cancel()

		if err == nil {
			continue
		}
		if step.required {
			return &ScrapeError{Op: "Login", Cause: ErrLoginFailed, Details: fmt.Sprintf("required signal %q: %v", step.name, err)}
		}
		slog.DebugContext(ctx, "post-login signal missed", "step", step.name, "err", err)
	}
	return nil
}

// --- WAIT PRIMITIVES ---

func waitNavigation(ctx context.Context, page *rod.Page) error {
	wait := page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	wait()
	return ctx.Err()
}

// waitRequestURLContains blocks until the page issues a request whose URL
// contains the fragment.
func waitRequestURLContains(ctx context.Context, page *rod.Page, fragment string) error {
	wait := page.Context(ctx).EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
		return strings.Contains(e.Request.URL, fragment)
	})
	wait()
	return ctx.Err()
}

// waitURLFragment polls the page URL until it contains any fragment.
func waitURLFragment(ctx context.Context, page *rod.Page, fragments ...string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if info, err := page.Context(ctx).Info(); err == nil {
			for _, fragment := range fragments {
				if strings.Contains(info.URL, fragment) {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return nil // shutdown mid-settle is not a login failure
	case <-time.After(d):
		return nil
	}
}

// exactTextPattern builds a case-insensitive whole-text match for rod's
// ElementR.
func exactTextPattern(text string) string {
	return fmt.Sprintf(`/^\s*%s\s*$/i`, regexp.QuoteMeta(strings.TrimSpace(text)))
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
