// qriswatcherd keeps a local ledger of QRIS merchant transactions in sync
// with the Bank Mandiri portal: it logs in through a real browser, lifts the
// portal's short-lived auth headers off its own traffic, then polls the
// transaction endpoint directly and upserts every row into SQLite.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/danprat/qris-d1-watcher/internal/config"
	"github.com/danprat/qris-d1-watcher/internal/monitor"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/scraper/portal"
	"github.com/danprat/qris-d1-watcher/internal/server"
	"github.com/danprat/qris-d1-watcher/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fatal("failed to load configuration", err)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		fatal("missing portal credentials", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal("failed to open store", err)
	}
	defer func() { _ = st.Close() }()

	scraper := portal.New(cfg.Portal)
	if err := scraper.Acquire(ctx); err != nil {
		fatal("failed to start browser", err)
	}
	defer scraper.Release()

	client := qris.NewClient(cfg.Fetch.BaseURL, qris.WithTimeout(cfg.Fetch.Timeout))

	opts := []monitor.Option{
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithLoginTimeout(cfg.Portal.LoginTimeout),
	}
	if secrets := cfg.Secrets.HeadersMap(); len(secrets) > 0 {
		seeded := qris.BaseHeaders(cfg.Fetch.UserAgent)
		for name, value := range secrets {
			seeded.Set(name, value)
		}
		slog.Info("seeding credentials from environment", "headers", seeded.Names())
		opts = append(opts, monitor.WithInitialHeaders(seeded))
	}
	mon := monitor.New(scraper, client, st, opts...)

	serverDone := make(chan struct{})
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, mon, st)
		go func() {
			defer close(serverDone)
			if err := srv.Run(ctx); err != nil {
				slog.Error("ops server stopped", "err", err)
			}
		}()
	} else {
		close(serverDone)
	}

	slog.Info("qris watcher starting",
		"portal", cfg.Portal.RootURL,
		"interval", cfg.Monitor.Interval,
		"db", cfg.Store.Path,
	)

	if err := mon.Run(ctx); err != nil {
		fatal("monitor stopped unexpectedly", err)
	}

	<-serverDone
	slog.Info("shutdown complete")
}

func setupLogging(level string) {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(level),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
