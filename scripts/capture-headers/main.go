// Header capture tool: opens a visible browser against the QRIS portal,
// logs in (automatically or by hand), and eavesdrops the frontend's own
// transaction call to lift the short-lived auth headers. Prints them as
// .env lines so qrisfetch and the daemon can replay without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danprat/qris-d1-watcher/internal/config"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/scraper/portal"
)

// envLines maps captured headers to the env vars the other binaries read.
var envLines = []struct {
	header string
	envVar string
}{
	{qris.HeaderSecretID, "QRIS_SECRET_ID"},
	{qris.HeaderSecretKey, "QRIS_SECRET_KEY"},
	{qris.HeaderSecretToken, "QRIS_SECRET_TOKEN"},
	{qris.HeaderSessionItem, "QRIS_SESSION_ITEM"},
}

func main() {
	manual := flag.Bool("manual", false, "log in by hand instead of using QRIS_USERNAME/QRIS_PASSWORD")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for the portal's data call")
	outPath := flag.String("out", "", "append the captured secrets to this .env file (default: stdout)")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fail("Error loading configuration: %v", err)
	}

	// Give the person time to get through the login.
	cfg.Portal.CaptureTimeout = *timeout

	fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║           QRIS HEADER CAPTURE TOOL                ║")
	fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════════════════╝")
	fmt.Fprintf(os.Stderr, "Portal: %s\n\n", cfg.Portal.RootURL)

	// Watching a real session is the whole point; force a visible browser.
	scraper := portal.New(cfg.Portal, portal.WithHeadful())
	ctx := context.Background()
	if err := scraper.Acquire(ctx); err != nil {
		fail("Error starting browser: %v", err)
	}
	defer scraper.Release()

	if *manual || cfg.Portal.Username == "" {
		if err := scraper.Open(ctx); err != nil {
			fail("Error opening portal: %v", err)
		}
		fmt.Fprintln(os.Stderr, "📋 A browser window is open. Log in to the portal yourself.")
		fmt.Fprint(os.Stderr, "   Press ENTER once you are past the login screen: ")
		waitEnter()
	} else {
		fmt.Fprintln(os.Stderr, "🔑 Logging in automatically...")
		if err := scraper.Login(ctx); err != nil {
			fail("Login failed: %v\n   (retry with -manual to log in by hand)", err)
		}
	}

	fmt.Fprintln(os.Stderr, "👂 Waiting for the portal's transaction call...")
	headers, err := scraper.CaptureHeaders(ctx)
	if err != nil {
		fail("Capture failed: %v", err)
	}

	fmt.Fprintln(os.Stderr, "\n✅ Captured headers:")
	for name, value := range headers.Redacted() {
		fmt.Fprintf(os.Stderr, "   %s: %s\n", name, value)
	}
	fmt.Fprintln(os.Stderr)

	if *outPath != "" {
		if err := appendEnvFile(*outPath, headers); err != nil {
			fail("Error writing %s: %v", *outPath, err)
		}
		fmt.Fprintf(os.Stderr, "💾 Secrets appended to %s\n", *outPath)
		return
	}

	for _, line := range envLines {
		if value := headers.Get(line.header); value != "" {
			fmt.Printf("%s=%s\n", line.envVar, value)
		}
	}
}

func appendEnvFile(path string, headers qris.HeaderSet) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, line := range envLines {
		if value := headers.Get(line.header); value != "" {
			if _, err := fmt.Fprintf(f, "%s=%s\n", line.envVar, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func waitEnter() {
	reader := bufio.NewReader(os.Stdin)
	_, _ = reader.ReadString('\n')
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
