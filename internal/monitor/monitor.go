// Package monitor runs the polling loop that keeps the local ledger in
// sync with the portal: ensure credentials, fetch the current day's
// transactions, persist them, and force exactly one re-login when the
// portal signals the captured headers expired.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danprat/qris-d1-watcher/internal/qris"
)

const defaultInterval = 5 * time.Minute

var (
	// ErrPollInFlight rejects a poll that would overlap a running one.
	ErrPollInFlight = errors.New("poll already in flight")
	// ErrDebounced rejects a scheduled poll that fired too close to the
	// previous one. Manual triggers are never debounced.
	ErrDebounced = errors.New("poll debounced")
)

// Authenticator produces fresh portal credentials through the browser.
type Authenticator interface {
	Login(ctx context.Context) error
	CaptureHeaders(ctx context.Context) (qris.HeaderSet, error)
}

// Fetcher replays the portal's transaction endpoint over plain HTTP.
type Fetcher interface {
	FetchTransactions(ctx context.Context, headers qris.HeaderSet, dateRange qris.DateRange) ([]qris.Detail, error)
}

// Sink persists fetched transaction details.
type Sink interface {
	UpsertDetails(ctx context.Context, details []qris.Detail) (int, error)
}

// Stats is a snapshot of the monitor's counters.
type Stats struct {
	Polls       int       `json:"polls"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	Relogins    int       `json:"relogins"`
	LastStored  int       `json:"lastStored"`
	TotalStored int       `json:"totalStored"`
	LastRunID   string    `json:"lastRunId,omitempty"`
	LastRun     time.Time `json:"lastRun"`
	LastError   string    `json:"lastError,omitempty"`
}

// PollResult describes one completed poll.
type PollResult struct {
	RunID   string          `json:"runId"`
	Range   qris.DateRange  `json:"range"`
	Fetched int             `json:"fetched"`
	Stored  int             `json:"stored"`
}

// Monitor owns the poll cadence and the current credential set.
type Monitor struct {
	auth         Authenticator
	fetcher      Fetcher
	sink         Sink
	interval     time.Duration
	loginTimeout time.Duration

	mu        sync.Mutex
	headers   qris.HeaderSet
	lastStart time.Time
	inFlight  bool
	stats     Stats
}

type Option func(*Monitor)

// WithInterval overrides the default five-minute cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithInitialHeaders seeds previously captured credentials, letting the
// first poll skip the browser entirely. They are trusted until the portal
// rejects them.
func WithInitialHeaders(headers qris.HeaderSet) Option {
	return func(m *Monitor) {
		if headers.Validate() == nil {
			m.headers = headers.Clone()
		}
	}
}

// WithLoginTimeout bounds each browser login as a whole. The sequencer only
// bounds its individual waits; zero leaves the login bounded by the poll's
// own context.
func WithLoginTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.loginTimeout = d
		}
	}
}

func New(auth Authenticator, fetcher Fetcher, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		auth:     auth,
		fetcher:  fetcher,
		sink:     sink,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls on a fixed cadence until the context is cancelled. The first
// poll fires immediately; misses are logged, never fatal, so one bad cycle
// cannot take the daemon down.
func (m *Monitor) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "monitor started", "interval", m.interval)

	m.pollAndLog(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "monitor stopped")
			return nil
		case <-ticker.C:
			m.pollAndLog(ctx)
		}
	}
}

func (m *Monitor) pollAndLog(ctx context.Context) {
	res, err := m.Poll(ctx, false)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "poll completed", "runId", res.RunID, "fetched", res.Fetched, "stored", res.Stored)
	case errors.Is(err, ErrPollInFlight), errors.Is(err, ErrDebounced):
		slog.DebugContext(ctx, "tick skipped", "reason", err)
	default:
		slog.ErrorContext(ctx, "poll failed", "err", err)
	}
}

// Poll runs one fetch-and-store cycle for the current portal-local day.
// force bypasses the debounce window but still respects the in-flight
// guard; the manual trigger endpoint uses it.
func (m *Monitor) Poll(ctx context.Context, force bool) (PollResult, error) {
	if err := m.begin(force); err != nil {
		return PollResult{}, err
	}
	defer m.end()

	runID := uuid.NewString()
	dateRange := qris.Today()
	log := slog.With("runId", runID, "startDate", dateRange.Start, "endDate", dateRange.End)

	result, err := m.poll(ctx, log, runID, dateRange)
	m.record(result, err)
	return result, err
}

// begin takes the in-flight slot and applies the debounce window, one
// second shy of the interval so a tick arriving fractionally early is not
// treated as a second poll.
func (m *Monitor) begin(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrPollInFlight
	}
	if !force {
		if window := m.interval - time.Second; window > 0 && time.Since(m.lastStart) < window {
			return ErrDebounced
		}
	}

	m.inFlight = true
	m.lastStart = time.Now()
	return nil
}

func (m *Monitor) end() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
}

func (m *Monitor) poll(ctx context.Context, log *slog.Logger, runID string, dateRange qris.DateRange) (PollResult, error) {
	result := PollResult{RunID: runID, Range: dateRange}

	headers, err := m.ensureHeaders(ctx, log)
	if err != nil {
		return result, err
	}

	details, err := m.fetcher.FetchTransactions(ctx, headers, dateRange)
	if err != nil && isAuthError(err) {
		// Exactly one forced re-login per poll. A second rejection means
		// something beyond header expiry is wrong.
		log.WarnContext(ctx, "portal rejected credentials, re-authenticating", "err", err)
		fresh, authErr := m.authenticate(ctx)
		if authErr != nil {
			return result, authErr
		}
		details, err = m.fetcher.FetchTransactions(ctx, fresh, dateRange)
	}
	if err != nil {
		return result, err
	}
	result.Fetched = len(details)

	stored, err := m.sink.UpsertDetails(ctx, details)
	if err != nil {
		return result, err
	}
	result.Stored = stored

	return result, nil
}

// ensureHeaders returns a credential set fit for this cycle. A set missing
// its core secrets needs the full browser round trip; a set that is merely
// missing the rotating token only needs a recapture, since the logged-in
// page mints a fresh token on every data call.
func (m *Monitor) ensureHeaders(ctx context.Context, log *slog.Logger) (qris.HeaderSet, error) {
	headers := m.currentHeaders()

	switch {
	case headers.Validate() != nil:
		log.InfoContext(ctx, "no usable credentials, authenticating")
		return m.authenticate(ctx)

	case !headers.HasToken():
		log.InfoContext(ctx, "rotating token missing, recapturing headers")
		fresh, err := m.recapture(ctx)
		if err == nil {
			return fresh, nil
		}
		// A dead capture usually means the session itself is gone.
		log.WarnContext(ctx, "recapture failed, forcing full login", "err", err)
		return m.authenticate(ctx)

	default:
		return headers, nil
	}
}

// authenticate runs the full browser round trip and swaps in the captured
// headers.
func (m *Monitor) authenticate(ctx context.Context) (qris.HeaderSet, error) {
	loginCtx := ctx
	if m.loginTimeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, m.loginTimeout)
		defer cancel()
	}
	if err := m.auth.Login(loginCtx); err != nil {
		return nil, err
	}
	headers, err := m.auth.CaptureHeaders(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.headers = headers.Clone()
	m.stats.Relogins++
	m.mu.Unlock()

	return headers, nil
}

// recapture refreshes the header set off the live session without logging
// in again.
func (m *Monitor) recapture(ctx context.Context) (qris.HeaderSet, error) {
	headers, err := m.auth.CaptureHeaders(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.headers = headers.Clone()
	m.mu.Unlock()

	return headers, nil
}

func (m *Monitor) currentHeaders() qris.HeaderSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers.Clone()
}

func (m *Monitor) record(result PollResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Polls++
	m.stats.LastRunID = result.RunID
	m.stats.LastRun = time.Now()
	m.stats.LastStored = result.Stored
	if err != nil {
		m.stats.Failures++
		m.stats.LastError = err.Error()
		return
	}
	m.stats.Successes++
	m.stats.LastError = ""
	m.stats.TotalStored += result.Stored
}

// Stats returns a copy of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// HasValidHeaders reports whether the monitor holds a complete credential
// set right now.
func (m *Monitor) HasValidHeaders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers.Validate() == nil
}

// SessionHeaders returns the current credential set with secret values
// masked, for status surfaces.
func (m *Monitor) SessionHeaders() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers.Redacted()
}

// isAuthError classifies a fetch failure as credential expiry. Typed API
// errors carry the status; the substring check is a fallback for errors
// that lost their type through wrapping. The "login" substring is a known
// heuristic carried over from the portal's habit of answering expired
// sessions with a plain "please login" message.
func isAuthError(err error) bool {
	var apiErr *qris.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthFailure()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "login")
}
