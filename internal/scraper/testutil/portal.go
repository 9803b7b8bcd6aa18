// Package testutil provides a scripted stand-in for the QRIS merchant
// portal, served entirely through rod's request hijacking so browser tests
// never touch the network.
package testutil

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/danprat/qris-d1-watcher/internal/qris"
)

// MockPortal scripts the handful of pages and endpoints the scraper
// touches: an optional landing CTA, the login form, a dashboard, the
// transaction history page whose inline script fires the authenticated
// data call, and the data endpoints themselves.
type MockPortal struct {
	cta         bool
	omitSubmit  bool
	secrets     map[string]string
	authStatus  int
	txBody      string
	verbose     bool

	mu     sync.Mutex
	counts map[string]int
}

// MockPortalOption configures a MockPortal.
type MockPortalOption func(*MockPortal)

// WithCTA hides the login form behind a landing page button, the way the
// portal's marketing shell does.
func WithCTA() MockPortalOption {
	return func(m *MockPortal) {
		m.cta = true
	}
}

// WithoutSubmit renders the login form with no submit control at all, to
// exercise the hard login failure.
func WithoutSubmit() MockPortalOption {
	return func(m *MockPortal) {
		m.omitSubmit = true
	}
}

// WithSecrets overrides the auth headers the scripted frontend sends.
func WithSecrets(secrets map[string]string) MockPortalOption {
	return func(m *MockPortal) {
		m.secrets = secrets
	}
}

// WithAuthStatus makes the transactions endpoint answer with the given
// status instead of 200.
func WithAuthStatus(status int) MockPortalOption {
	return func(m *MockPortal) {
		m.authStatus = status
	}
}

// WithTransactionsBody overrides the canned transactions payload.
func WithTransactionsBody(body string) MockPortalOption {
	return func(m *MockPortal) {
		m.txBody = body
	}
}

// WithVerbose logs every request the mock serves.
func WithVerbose() MockPortalOption {
	return func(m *MockPortal) {
		m.verbose = true
	}
}

// NewMockPortal builds a portal with a direct login form, the default
// secret set, and two canned transactions.
func NewMockPortal(opts ...MockPortalOption) *MockPortal {
	m := &MockPortal{
		secrets: map[string]string{
			qris.HeaderSecretID:    "mock-secret-id",
			qris.HeaderSecretKey:   "mock-secret-key",
			qris.HeaderSecretToken: "mock-secret-token",
			qris.HeaderSessionItem: "mock-session-item",
		},
		authStatus: 200,
		txBody:     DefaultTransactionsJSON,
		counts:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Middleware returns a rod hijack handler serving the scripted portal.
// Use with portal.WithHijacker(mock.Middleware()).
func (m *MockPortal) Middleware() func(*rod.Hijack) {
	return func(ctx *rod.Hijack) {
		u := ctx.Request.URL()
		m.count(u.Path)
		if m.verbose {
			log.Printf("[mockportal] %s %s", ctx.Request.Method(), u.Path)
		}

		switch {
		case strings.HasPrefix(u.Path, qris.TransactionsPath):
			if m.authStatus < 200 || m.authStatus >= 300 {
				m.serveJSON(ctx, m.authStatus, `{"error":"unauthorized"}`)
				return
			}
			m.serveJSON(ctx, m.authStatus, m.txBody)
		case strings.HasPrefix(u.Path, qris.RefreshPath):
			m.serveJSON(ctx, 200, `{"result":"mock-refreshed-token"}`)
		case u.Path == qris.HistoryPagePath:
			m.serveHTML(ctx, m.historyPage())
		case u.Path == "/dashboard":
			m.serveHTML(ctx, dashboardPage)
		case u.Path == "/login":
			m.serveHTML(ctx, m.loginPage())
		case u.Path == "/" || u.Path == "":
			if m.cta {
				m.serveHTML(ctx, landingPage)
				return
			}
			m.serveHTML(ctx, m.loginPage())
		default:
			m.serveNotFound(ctx, u.Path)
		}
	}
}

// RequestCount reports how many times a path was served.
func (m *MockPortal) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

func (m *MockPortal) count(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[path]++
}

// --- RESPONSES ---

func (m *MockPortal) serveHTML(ctx *rod.Hijack, body string) {
	payload := ctx.Response.Payload()
	payload.ResponseCode = 200
	payload.ResponseHeaders = []*proto.FetchHeaderEntry{
		{Name: "Content-Type", Value: "text/html; charset=utf-8"},
	}
	payload.Body = []byte(body)
}

func (m *MockPortal) serveJSON(ctx *rod.Hijack, status int, body string) {
	payload := ctx.Response.Payload()
	payload.ResponseCode = status
	payload.ResponseHeaders = []*proto.FetchHeaderEntry{
		{Name: "Content-Type", Value: "application/json"},
	}
	payload.Body = []byte(body)
}

func (m *MockPortal) serveNotFound(ctx *rod.Hijack, path string) {
	if m.verbose {
		log.Printf("[mockportal] 404 %s", path)
	}
	m.serveJSON(ctx, 404, `{"error":"no script for path"}`)
}

// --- PAGES ---

const landingPage = `<!DOCTYPE html>
<html>
<head><title>QRIS Merchant</title></head>
<body>
  <h1>Portal Merchant QRIS</h1>
  <button id="cta">Login</button>
  <script>
    document.getElementById('cta').addEventListener('click', function () {
      window.location.href = '/login';
    });
  </script>
</body>
</html>`

const dashboardPage = `<!DOCTYPE html>
<html>
<head><title>Dashboard</title></head>
<body>
  <h1>Selamat datang</h1>
  <script>
    fetch('/api/loginCtl/refresh', {
      method: 'POST',
      headers: { 'session-item': 'mock-session-item' }
    });
  </script>
</body>
</html>`

func (m *MockPortal) loginPage() string {
	submit := `<button type="submit">Masuk</button>`
	if m.omitSubmit {
		submit = ""
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Login</title></head>
<body>
  <form>
    <label for="username">Username</label>
    <input id="username" formcontrolname="username" type="text">
    <label for="password">Password</label>
    <input id="password" formcontrolname="password" type="password">
    %s
  </form>
  <script>
    document.querySelector('form').addEventListener('submit', function (ev) {
      ev.preventDefault();
      window.location.href = '/dashboard';
    });
  </script>
</body>
</html>`, submit)
}

// historyPage fires the authenticated transaction call the same way the
// real frontend does, with the secrets as request headers.
func (m *MockPortal) historyPage() string {
	headersJSON, err := json.Marshal(m.secrets)
	if err != nil {
		headersJSON = []byte("{}")
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Riwayat Transaksi</title></head>
<body>
  <h1>Riwayat Transaksi</h1>
  <script>
    fetch('%s?startDate=20260101&endDate=20260101&isLimitValidated=false', {
      headers: %s
    });
  </script>
</body>
</html>`, qris.TransactionsPath, headersJSON)
}

// DefaultTransactionsJSON mirrors the portal's envelope closely enough for
// the detail walker: two rows nested under the usual layers of wrapping.
const DefaultTransactionsJSON = `{
  "result": {
    "homeScreen": {
      "dataTransaksi": [
        {
          "detail": {
            "reffNumber": "FT260101AAAA",
            "transferAmount": 150000,
            "customerName": "BUDI SANTOSO",
            "issuerName": "BANK MANDIRI",
            "authDate": "2026-01-01 09:15:22"
          }
        },
        {
          "detail": {
            "reffNumber": "FT260101BBBB",
            "transferAmount": "25,500.00",
            "customerName": "SITI RAHAYU",
            "issuerName": "GOPAY",
            "authDate": "2026-01-01 10:02:41"
          }
        }
      ]
    }
  }
}`
