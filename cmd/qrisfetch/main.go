// qrisfetch is the one-shot companion to qriswatcherd: it replays the
// portal's transaction endpoint with secrets already captured into the
// environment, no browser involved. Useful for backfilling a date range or
// checking whether a captured header set still works.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/danprat/qris-d1-watcher/internal/config"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/store"
)

func main() {
	start := flag.String("start", "", "start date YYYYMMDD or YYYY-MM-DD (default: today, portal time)")
	end := flag.String("end", "", "end date (default: same as start)")
	dbPath := flag.String("store", "", "SQLite path to upsert into (default: print only)")
	refresh := flag.Bool("refresh", false, "refresh the auth token before fetching")
	asJSON := flag.Bool("json", false, "print fetched details as JSON on stdout")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	headers := qris.BaseHeaders(cfg.Fetch.UserAgent)
	for name, value := range cfg.Secrets.HeadersMap() {
		headers.Set(name, value)
	}
	if err := headers.Validate(); err != nil {
		fatal("environment is missing portal secrets (run scripts/capture-headers first)", err)
	}

	dateRange, err := resolveRange(*start, *end)
	if err != nil {
		fatal("invalid date range", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := qris.NewClient(cfg.Fetch.BaseURL, qris.WithTimeout(cfg.Fetch.Timeout))

	if *refresh {
		token, err := client.RefreshToken(ctx, headers)
		if err != nil {
			fatal("token refresh failed", err)
		}
		headers.Set(qris.HeaderSecretToken, token)
		slog.Info("auth token refreshed")
	}

	details, err := fetchWithRetry(ctx, client, headers, dateRange)
	if err != nil {
		fatal("fetch failed", err)
	}
	slog.Info("fetched transactions",
		"count", len(details),
		"startDate", dateRange.Start,
		"endDate", dateRange.End,
	)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(details); err != nil {
			fatal("encoding output failed", err)
		}
	} else {
		printTable(details)
	}

	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			fatal("failed to open store", err)
		}
		defer func() { _ = st.Close() }()

		stored, err := st.UpsertDetails(ctx, details)
		if err != nil {
			fatal("upsert failed", err)
		}
		slog.Info("stored transactions", "rows", stored, "db", *dbPath)
	}
}

// fetchWithRetry refreshes the token and retries exactly once when the
// portal rejects the captured credentials.
func fetchWithRetry(ctx context.Context, client *qris.Client, headers qris.HeaderSet, dateRange qris.DateRange) ([]qris.Detail, error) {
	details, err := client.FetchTransactions(ctx, headers, dateRange)
	if err == nil {
		return details, nil
	}

	var apiErr *qris.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsAuthFailure() {
		return nil, err
	}

	slog.Warn("portal rejected credentials, refreshing token", "status", apiErr.StatusCode)
	token, refreshErr := client.RefreshToken(ctx, headers)
	if refreshErr != nil {
		return nil, fmt.Errorf("refresh after rejection: %w", refreshErr)
	}
	headers.Set(qris.HeaderSecretToken, token)

	return client.FetchTransactions(ctx, headers, dateRange)
}

func resolveRange(start, end string) (qris.DateRange, error) {
	if start == "" {
		return qris.Today(), nil
	}
	if end == "" {
		end = start
	}
	return qris.NewDateRange(start, end)
}

func printTable(details []qris.Detail) {
	if len(details) == 0 {
		fmt.Println("no transactions in range")
		return
	}

	fmt.Printf("%-24s %14s  %-24s %-10s %s\n", "REFF", "AMOUNT", "CUSTOMER", "ISSUER", "AUTH DATE")
	for _, d := range details {
		fmt.Printf("%-24s %14s  %-24s %-10s %s\n",
			d.ReffNumber, formatAmount(d.TransferAmountNumber), d.CustomerName, d.IssuerName, d.AuthDate)
	}
}

func formatAmount(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
