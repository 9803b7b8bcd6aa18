// Package portal drives the QRIS merchant portal through a real browser:
// login sequencing, and eavesdropping the short-lived authentication
// headers off the portal's own network traffic. Everything downstream of
// capture talks HTTP directly and lives in the qris package.
package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/danprat/qris-d1-watcher/internal/config"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/scraper/browser"
)

// Scraper owns one browser session against the portal. It is a singly-owned
// resource: acquire once, login/capture as needed, release on shutdown.
// Browser interactions are not safe for concurrent use; the monitor loop is
// the only caller. Header reads are mutex-guarded so status endpoints can
// peek without racing a capture.
type Scraper struct {
	cfg config.PortalConfig

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	hijacker func(*rod.Hijack)
	router   *rod.HijackRouter

	typeFn  browser.TypeFunc
	timeout time.Duration

	mu      sync.Mutex
	headers qris.HeaderSet
	logins  int
}

type Option func(*Scraper)

// WithHijacker routes all page traffic through a hijack handler. Tests use
// this to stand in a scripted portal; production leaves it unset.
func WithHijacker(h func(*rod.Hijack)) Option {
	return func(s *Scraper) {
		s.hijacker = h
	}
}

// WithTimeout overrides the default per-step wait bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		s.timeout = d
	}
}

// WithTypeFunc overrides how credentials are typed. Tests swap in
// browser.TypeFast; the default paces keystrokes like a person.
func WithTypeFunc(fn browser.TypeFunc) Option {
	return func(s *Scraper) {
		s.typeFn = fn
	}
}

// WithHeadful shows the browser window. The capture tool forces this so an
// operator can drive the login by hand.
func WithHeadful() Option {
	return func(s *Scraper) {
		s.cfg.Headful = true
	}
}

// WithBrowserPath points the launcher at a specific Chromium binary instead
// of the managed download.
func WithBrowserPath(path string) Option {
	return func(s *Scraper) {
		s.cfg.BrowserPath = path
	}
}

func New(cfg config.PortalConfig, opts ...Option) *Scraper {
	s := &Scraper{
		cfg:     cfg,
		typeFn:  browser.TypeHuman,
		timeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire launches the browser and prepares a stealth page. Must succeed
// before Login or CaptureHeaders; failure here is process-fatal for the
// daemon since nothing can recover a browser that will not start.
func (s *Scraper) Acquire(ctx context.Context) error {
	l := launcher.New().
		Headless(!s.cfg.Headful).
		// Hide the automation fingerprint the portal's bot detection keys on.
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run").
		Set("no-default-browser-check")

	if s.cfg.BrowserPath != "" {
		l = l.Bin(s.cfg.BrowserPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: launch: %v", ErrBrowserUnavailable, err)
	}
	s.launcher = l

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.launcher.Cleanup()
		return fmt.Errorf("%w: connect: %v", ErrBrowserUnavailable, err)
	}
	s.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		s.Release()
		return fmt.Errorf("%w: stealth page: %v", ErrBrowserUnavailable, err)
	}
	s.page = page

	if s.hijacker != nil {
		router := page.HijackRequests()
		if err := router.Add("*", "", s.hijacker); err != nil {
			s.Release()
			return fmt.Errorf("%w: hijack router: %v", ErrBrowserUnavailable, err)
		}
		go router.Run()
		s.router = router
	}

	return nil
}

// Release tears down the browser session. Safe to call more than once and
// on a scraper that never acquired.
func (s *Scraper) Release() {
	if s.router != nil {
		_ = s.router.Stop()
		s.router = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
	s.page = nil
}

// acquired reports whether the session is usable.
func (s *Scraper) acquired() bool {
	return s.page != nil
}

// Open loads the portal root without driving the login flow. The capture
// script uses it to hand the session over to a person.
func (s *Scraper) Open(ctx context.Context) error {
	if !s.acquired() {
		return &ScrapeError{Op: "Open", Cause: ErrBrowserUnavailable, Details: "session not acquired"}
	}
	return s.page.Context(ctx).Navigate(s.cfg.RootURL)
}

// Headers returns a copy of the last captured header set, or nil when no
// capture has succeeded yet.
func (s *Scraper) Headers() qris.HeaderSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers.Clone()
}

// HasValidHeaders reports whether a complete credential set is on hand.
func (s *Scraper) HasValidHeaders() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers.Validate() == nil
}

// LoginCount returns how many login attempts this session has driven,
// successful or not.
func (s *Scraper) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Scraper) countLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
}

func (s *Scraper) setHeaders(hs qris.HeaderSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = hs
}
