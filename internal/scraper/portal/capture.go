package portal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/danprat/qris-d1-watcher/internal/qris"
)

// CaptureHeaders loads the transaction history page and eavesdrops the
// page's own traffic until a successful transaction-data call goes by, then
// lifts the auth headers off that request. The page is never asked to
// produce the call; loading the history view is what makes the frontend
// fire it. Returns ErrCaptureTimeout when nothing matching passes within
// the configured capture window.
func (s *Scraper) CaptureHeaders(ctx context.Context) (qris.HeaderSet, error) {
	if !s.acquired() {
		return nil, &ScrapeError{Op: "CaptureHeaders", Cause: ErrBrowserUnavailable, Details: "session not acquired"}
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()
	page := s.page.Context(captureCtx)

	// Headers exist at request time; the response only tells us the portal
	// accepted them. Track candidates by request id and keep the first one
	// that comes back 2xx.
	pending := map[proto.NetworkRequestID]qris.HeaderSet{}
	var captured qris.HeaderSet

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request.Method != "GET" || !strings.Contains(e.Request.URL, qris.TransactionsPathFragment) {
				return
			}
			pending[e.RequestID] = headersFromRequest(e.Request)
		},
		func(e *proto.NetworkResponseReceived) bool {
			hs, ok := pending[e.RequestID]
			if !ok {
				return false
			}
			if e.Response.Status < 200 || e.Response.Status >= 300 {
				slog.Debug("observed transaction call rejected", "status", e.Response.Status)
				delete(pending, e.RequestID)
				return false
			}
			captured = hs
			return true
		},
	)

	if err := page.Navigate(historyURL(s.cfg.RootURL)); err != nil {
		return nil, &ScrapeError{Op: "CaptureHeaders", Cause: err, Details: "navigate to history page"}
	}

	wait()

	if captured == nil {
		return nil, &ScrapeError{
			Op:      "CaptureHeaders",
			Cause:   ErrCaptureTimeout,
			Details: fmt.Sprintf("no successful %s call within %s", qris.TransactionsPathFragment, s.cfg.CaptureTimeout),
		}
	}
	if err := captured.Validate(); err != nil {
		return nil, &ScrapeError{Op: "CaptureHeaders", Cause: err, Details: "observed call is missing portal secrets"}
	}

	s.setHeaders(captured)
	slog.InfoContext(ctx, "captured portal auth headers", "headers", captured.Redacted())
	return captured.Clone(), nil
}

// headersFromRequest flattens DevTools headers and drops everything outside
// the replay whitelist in one pass.
func headersFromRequest(req *proto.NetworkRequest) qris.HeaderSet {
	raw := make(map[string]string, len(req.Headers))
	for name, value := range req.Headers {
		raw[name] = value.Str()
	}
	return qris.FilterHeaders(raw)
}

func historyURL(root string) string {
	return strings.TrimRight(root, "/") + qris.HistoryPagePath
}
