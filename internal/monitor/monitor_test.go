package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danprat/qris-d1-watcher/internal/config"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/scraper/browser"
	"github.com/danprat/qris-d1-watcher/internal/scraper/portal"
	"github.com/danprat/qris-d1-watcher/internal/scraper/testutil"
	"github.com/danprat/qris-d1-watcher/internal/store"
)

// --- FAKES ---

type fakeAuth struct {
	mu             sync.Mutex
	logins         int
	captures       int
	headers        qris.HeaderSet
	loginErr       error
	captureErr     error
	captureErrOnce error
}

func (f *fakeAuth) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeAuth) CaptureHeaders(context.Context) (qris.HeaderSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.captureErrOnce != nil {
		err := f.captureErrOnce
		f.captureErrOnce = nil
		return nil, err
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.headers.Clone(), nil
}

func (f *fakeAuth) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeAuth) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

type fetchResult struct {
	details []qris.Detail
	err     error
}

type fakeFetcher struct {
	mu      sync.Mutex
	headers []qris.HeaderSet
	queue   []fetchResult
	block   chan struct{} // when set, FetchTransactions parks until closed
}

func (f *fakeFetcher) FetchTransactions(_ context.Context, headers qris.HeaderSet, _ qris.DateRange) ([]qris.Detail, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, headers.Clone())

	if len(f.queue) == 0 {
		return nil, nil
	}
	next := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return next.details, next.err
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.headers)
}

type fakeSink struct {
	mu      sync.Mutex
	upserts [][]qris.Detail
	err     error
}

func (f *fakeSink) UpsertDetails(_ context.Context, details []qris.Detail) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.upserts = append(f.upserts, details)
	return len(details), nil
}

// --- HELPERS ---

func validHeaders() qris.HeaderSet {
	return qris.HeaderSet{
		qris.HeaderSecretID:    "id-1",
		qris.HeaderSecretKey:   "key-1",
		qris.HeaderSecretToken: "token-1",
		qris.HeaderSessionItem: "session-1",
	}
}

func details(reffs ...string) []qris.Detail {
	out := make([]qris.Detail, 0, len(reffs))
	for _, r := range reffs {
		out = append(out, qris.Detail{ReffNumber: r})
	}
	return out
}

func authRejection() error {
	return &qris.APIError{StatusCode: http.StatusUnauthorized, Body: "token kadaluarsa"}
}

// --- POLL CYCLE ---

func TestPoll_AuthenticatesWhenNoCredentials(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1", "FT2")}}}
	sink := &fakeSink{}
	m := New(auth, fetcher, sink)

	res, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, auth.loginCount(), "cold start needs exactly one login")
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, "token-1", fetcher.headers[0].Get(qris.HeaderSecretToken), "fetch must use the captured headers")

	stats := m.Stats()
	assert.Equal(t, 1, stats.Polls)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Relogins)
	assert.Equal(t, 2, stats.TotalStored)
	assert.NotEmpty(t, stats.LastRunID)
}

func TestPoll_SeededHeadersSkipTheBrowser(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1")}}}
	m := New(auth, fetcher, &fakeSink{}, WithInitialHeaders(validHeaders()))

	_, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.Zero(t, auth.loginCount(), "valid seeded headers make the browser unnecessary")
	assert.Zero(t, auth.captureCount())
	assert.True(t, m.HasValidHeaders())
}

func TestPoll_MissingTokenTriggersRecapture(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1")}}}

	seeded := validHeaders()
	delete(seeded, qris.HeaderSecretToken)
	m := New(auth, fetcher, &fakeSink{}, WithInitialHeaders(seeded))

	_, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.Zero(t, auth.loginCount(), "core secrets are intact, no login needed")
	assert.Equal(t, 1, auth.captureCount(), "missing rotating token forces a recapture")
	assert.Equal(t, "token-1", fetcher.headers[0].Get(qris.HeaderSecretToken), "fetch runs with the recaptured set")
}

func TestPoll_RecaptureFailureFallsBackToFullLogin(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders(), captureErrOnce: errors.New("history page went nowhere")}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1")}}}

	seeded := validHeaders()
	delete(seeded, qris.HeaderSecretToken)
	m := New(auth, fetcher, &fakeSink{}, WithInitialHeaders(seeded))

	_, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, auth.loginCount(), "a dead capture means the session is gone, so log in again")
	assert.Equal(t, 2, auth.captureCount())
}

func TestPoll_RejectedCredentialsForceExactlyOneRelogin(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{
		{err: authRejection()},
		{details: details("FT1")},
	}}
	m := New(auth, fetcher, &fakeSink{})

	res, err := m.Poll(context.Background(), false)

	require.NoError(t, err, "a single rejection is recoverable within the poll")
	assert.Equal(t, 2, auth.loginCount(), "initial login plus one forced re-login")
	assert.Equal(t, 2, fetcher.calls(), "rejected fetch is retried once")
	assert.Equal(t, 1, res.Stored)
}

func TestPoll_SecondRejectionFailsThePoll(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{
		{err: authRejection()},
		{err: authRejection()},
	}}
	m := New(auth, fetcher, &fakeSink{})

	_, err := m.Poll(context.Background(), false)

	require.Error(t, err)
	assert.Equal(t, 2, auth.loginCount(), "no third login inside one poll")

	stats := m.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.NotEmpty(t, stats.LastError)
}

func TestPoll_SubstringRejectionAlsoTriggersRelogin(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{
		{err: fmt.Errorf("request failed: Unauthorized access")},
		{details: details("FT1")},
	}}
	m := New(auth, fetcher, &fakeSink{}, WithInitialHeaders(validHeaders()))

	_, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, auth.loginCount(), "untyped rejection still forces a re-login")
}

func TestPoll_LoginFailureSurfaces(t *testing.T) {
	auth := &fakeAuth{loginErr: errors.New("portal down")}
	m := New(auth, &fakeFetcher{}, &fakeSink{})

	_, err := m.Poll(context.Background(), false)

	require.Error(t, err)
	assert.Zero(t, m.Stats().Successes)
	assert.Equal(t, 1, m.Stats().Failures)
}

func TestPoll_CaptureFailureSurfaces(t *testing.T) {
	auth := &fakeAuth{captureErr: errors.New("nothing observed")}
	m := New(auth, &fakeFetcher{}, &fakeSink{})

	_, err := m.Poll(context.Background(), false)

	require.Error(t, err)
	assert.Equal(t, 1, auth.loginCount())
	assert.False(t, m.HasValidHeaders())
}

func TestPoll_SinkFailureSurfaces(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1")}}}
	sink := &fakeSink{err: errors.New("disk full")}
	m := New(auth, fetcher, sink)

	_, err := m.Poll(context.Background(), false)

	require.Error(t, err)
	assert.Equal(t, 1, m.Stats().Failures)
}

// --- GUARDS ---

func TestPoll_InFlightGuardRejectsOverlap(t *testing.T) {
	block := make(chan struct{})
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{block: block, queue: []fetchResult{{details: details("FT1")}}}
	m := New(auth, fetcher, &fakeSink{})

	done := make(chan error, 1)
	go func() {
		_, err := m.Poll(context.Background(), false)
		done <- err
	}()

	// Wait until the first poll is parked inside the fetcher.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.inFlight
	}, time.Second, 5*time.Millisecond)

	_, err := m.Poll(context.Background(), true)
	assert.ErrorIs(t, err, ErrPollInFlight, "even a forced poll respects the in-flight guard")

	close(block)
	require.NoError(t, <-done)
}

func TestPoll_DebounceWindowSkipsEarlyTicks(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	fetcher := &fakeFetcher{queue: []fetchResult{{details: details("FT1")}}}
	m := New(auth, fetcher, &fakeSink{}, WithInterval(5*time.Minute))

	_, err := m.Poll(context.Background(), false)
	require.NoError(t, err)

	_, err = m.Poll(context.Background(), false)
	assert.ErrorIs(t, err, ErrDebounced, "a tick inside the window is dropped")

	_, err = m.Poll(context.Background(), true)
	assert.NoError(t, err, "manual trigger bypasses the debounce")
}

func TestRun_StopsOnCancel(t *testing.T) {
	auth := &fakeAuth{headers: validHeaders()}
	m := New(auth, &fakeFetcher{}, &fakeSink{}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Stats().Polls >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// --- CLASSIFICATION ---

func TestIsAuthError(t *testing.T) {
	assert.True(t, isAuthError(&qris.APIError{StatusCode: 401}))
	assert.True(t, isAuthError(&qris.APIError{StatusCode: 403}))
	assert.False(t, isAuthError(&qris.APIError{StatusCode: 500}))
	assert.True(t, isAuthError(fmt.Errorf("fetch: %w", &qris.APIError{StatusCode: 401})), "wrapping keeps the type visible")
	assert.True(t, isAuthError(errors.New("got Forbidden from upstream")))
	assert.True(t, isAuthError(errors.New("silakan Login ulang")))
	assert.False(t, isAuthError(errors.New("connection refused")))
}

// --- END TO END OVER HTTP ---

const envelopeJSON = `{
  "result": {
    "homeScreen": {
      "dataTransaksi": [
        {"detail": {"reffNumber": "FT900A", "transferAmount": "52,000.00", "transferAmountNumber": 52000, "customerName": "ANDI", "authDate": "2026-08-25 09:30:00"}},
        {"detail": {"reffNumber": "FT900B", "transferAmount": "17,500.00", "transferAmountNumber": 17500, "customerName": "BUDI", "authDate": "2026-08-25 11:45:00"}}
      ]
    }
  }
}`

// TestPoll_EndToEnd runs the real HTTP client against a stand-in portal API
// and the real store: two polls over the same day must leave exactly one
// row per transaction.
func TestPoll_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(qris.HeaderSecretID) == "" || r.Header.Get(qris.HeaderSecretKey) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(envelopeJSON))
	}))
	defer server.Close()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	auth := &fakeAuth{headers: validHeaders()}
	client := qris.NewClient(server.URL)
	m := New(auth, client, st)

	ctx := context.Background()
	first, err := m.Poll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Fetched)
	assert.Equal(t, 2, first.Stored)

	second, err := m.Poll(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Stored, "re-polling the same day rewrites the same rows")

	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "no duplicates across polls")

	row, err := st.GetByReff(ctx, "FT900A")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ANDI", row.CustomerName)
	assert.Equal(t, "52,000.00", row.TransferAmount)
	require.NotNil(t, row.TransferAmountNumber)
	assert.Equal(t, float64(52000), *row.TransferAmountNumber)
}

// TestPoll_SingleDetailEnvelope pins the minimal full-cycle contract: one
// detail in the envelope becomes exactly one row, numeric amount intact.
func TestPoll_SingleDetailEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"data":[{"detail":{"reffNumber":"TX1","authAmountNumber":50000,"customerName":"JOHN DOE"}}]}}`))
	}))
	defer server.Close()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	m := New(&fakeAuth{headers: validHeaders()}, qris.NewClient(server.URL), st)

	ctx := context.Background()
	res, err := m.Poll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)

	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	row, err := st.GetByReff(ctx, "TX1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "JOHN DOE", row.CustomerName)
	require.NotNil(t, row.AuthAmountNumber)
	assert.Equal(t, float64(50000), *row.AuthAmountNumber)
}

// TestPoll_BrowserEndToEnd_Integration runs the same single-detail cycle
// with the real sequencer and eavesdropper: Chromium logs into the scripted
// portal, the headers come off its wire, and the replay + store legs finish
// the job.
func TestPoll_BrowserEndToEnd_Integration(t *testing.T) {
	if os.Getenv("WATCHER_TEST_MODE") != "browser" {
		t.Skip("Skipping: requires WATCHER_TEST_MODE=browser")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"data":[{"detail":{"reffNumber":"TX1","authAmountNumber":50000,"customerName":"JOHN DOE"}}]}}`))
	}))
	defer server.Close()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	mock := testutil.NewMockPortal()
	scraper := portal.New(config.PortalConfig{
		RootURL:        "https://qris.mock.test",
		Username:       "merchant-01",
		Password:       "s3cret",
		CaptureTimeout: 15 * time.Second,
	},
		portal.WithHijacker(mock.Middleware()),
		portal.WithTypeFunc(browser.TypeFast),
		portal.WithTimeout(10*time.Second),
	)
	require.NoError(t, scraper.Acquire(context.Background()), "browser must start for browser-mode tests")
	t.Cleanup(scraper.Release)

	m := New(scraper, qris.NewClient(server.URL), st)

	res, err := m.Poll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 1, scraper.LoginCount())

	row, err := st.GetByReff(context.Background(), "TX1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "JOHN DOE", row.CustomerName)
	require.NotNil(t, row.AuthAmountNumber)
	assert.Equal(t, float64(50000), *row.AuthAmountNumber)
}

// deadlineAuth records whether Login ran under a context deadline.
type deadlineAuth struct {
	fakeAuth
	sawDeadline bool
}

func (d *deadlineAuth) Login(ctx context.Context) error {
	_, d.sawDeadline = ctx.Deadline()
	return d.fakeAuth.Login(ctx)
}

func TestWithLoginTimeout_BoundsLogin(t *testing.T) {
	auth := &deadlineAuth{fakeAuth: fakeAuth{headers: validHeaders()}}
	m := New(auth, &fakeFetcher{}, &fakeSink{}, WithLoginTimeout(time.Minute))

	_, err := m.Poll(context.Background(), false)

	require.NoError(t, err)
	assert.True(t, auth.sawDeadline, "login context must carry the configured bound")
}
