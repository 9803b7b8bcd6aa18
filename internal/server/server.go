// Package server exposes the watcher's operational HTTP API: manual poll
// trigger, counters, session status, and read access to the stored
// transactions.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/danprat/qris-d1-watcher/internal/monitor"
	"github.com/danprat/qris-d1-watcher/internal/store"
)

// Poller is the slice of the monitor the API needs.
type Poller interface {
	Poll(ctx context.Context, force bool) (monitor.PollResult, error)
	Stats() monitor.Stats
	HasValidHeaders() bool
	SessionHeaders() map[string]string
}

// TransactionReader is the slice of the store the API needs.
type TransactionReader interface {
	Query(ctx context.Context, filter store.Filter) ([]store.StoredTransaction, error)
	GetByReff(ctx context.Context, reffNumber string) (*store.StoredTransaction, error)
	Count(ctx context.Context) (int64, error)
}

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Server wires the routes to a poller and a transaction reader.
type Server struct {
	addr   string
	router *mux.Router
	poller Poller
	reader TransactionReader
}

func New(addr string, poller Poller, reader TransactionReader) *Server {
	s := &Server{
		addr:   addr,
		router: mux.NewRouter().StrictSlash(true),
		poller: poller,
		reader: reader,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(jsonContentType)
	s.router.Use(requestLogger)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{reffNumber}", s.handleGetTransaction).Methods(http.MethodGet)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.InfoContext(ctx, "ops server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// --- MIDDLEWARE ---

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
