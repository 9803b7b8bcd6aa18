package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearWatcherEnv blanks every watcher variable so defaults are observable
// regardless of what the surrounding shell exports. Get treats empty as
// unset, so t.Setenv(key, "") both clears and restores.
func clearWatcherEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"QRIS_LOG_LEVEL",
		"QRIS_PORTAL_URL", "QRIS_USERNAME", "QRIS_PASSWORD",
		"QRIS_BROWSER_PATH", "QRIS_HEADFUL",
		"QRIS_LOGIN_TIMEOUT", "QRIS_CAPTURE_TIMEOUT",
		"QRIS_SELECTOR_USERNAME", "QRIS_LABEL_USERNAME",
		"QRIS_SELECTOR_PASSWORD", "QRIS_LABEL_PASSWORD",
		"QRIS_SELECTOR_SUBMIT", "QRIS_LABEL_SUBMIT", "QRIS_LABEL_CTA",
		"QRIS_API_BASE_URL", "QRIS_FETCH_TIMEOUT", "QRIS_USER_AGENT",
		"QRIS_SECRET_ID", "QRIS_SECRET_KEY", "QRIS_SECRET_TOKEN", "QRIS_SESSION_ITEM",
		"QRIS_DB_PATH",
		"QRIS_SERVER_ADDR", "QRIS_SERVER_ENABLED",
		"QRIS_POLL_INTERVAL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestGet(t *testing.T) {
	// Cannot use t.Parallel() - modifies env vars
	t.Setenv("QRIS_TEST_GET", "")
	assert.Equal(t, "fallback", Get("QRIS_TEST_GET", "fallback"))

	t.Setenv("QRIS_TEST_GET", "explicit")
	assert.Equal(t, "explicit", Get("QRIS_TEST_GET", "fallback"))
}

func TestGetBool(t *testing.T) {
	t.Setenv("QRIS_TEST_BOOL", "true")
	assert.True(t, GetBool("QRIS_TEST_BOOL", false))

	t.Setenv("QRIS_TEST_BOOL", "0")
	assert.False(t, GetBool("QRIS_TEST_BOOL", true))

	t.Setenv("QRIS_TEST_BOOL", "not-a-bool")
	assert.True(t, GetBool("QRIS_TEST_BOOL", true), "unparseable values fall back to the default")
}

func TestGetDuration(t *testing.T) {
	t.Setenv("QRIS_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetDuration("QRIS_TEST_DURATION", time.Minute))

	t.Setenv("QRIS_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, GetDuration("QRIS_TEST_DURATION", time.Minute), "unparseable values fall back to the default")
}

func TestFromEnv_Defaults(t *testing.T) {
	clearWatcherEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://qris.bankmandiri.co.id", cfg.Portal.RootURL)
	assert.False(t, cfg.Portal.Headful)
	assert.Equal(t, 60*time.Second, cfg.Portal.LoginTimeout)
	assert.Equal(t, 30*time.Second, cfg.Portal.CaptureTimeout)
	assert.Equal(t, cfg.Portal.RootURL, cfg.Fetch.BaseURL, "replay base defaults to the portal root")
	assert.Equal(t, "qris.db", cfg.Store.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearWatcherEnv(t)
	t.Setenv("QRIS_PORTAL_URL", "https://portal.example.test")
	t.Setenv("QRIS_USERNAME", "merchant-01")
	t.Setenv("QRIS_PASSWORD", "s3cret")
	t.Setenv("QRIS_HEADFUL", "true")
	t.Setenv("QRIS_POLL_INTERVAL", "30s")
	t.Setenv("QRIS_DB_PATH", "/tmp/watcher.db")
	t.Setenv("QRIS_SERVER_ENABLED", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.test", cfg.Portal.RootURL)
	assert.Equal(t, "merchant-01", cfg.Portal.Username)
	assert.Equal(t, "s3cret", cfg.Portal.Password)
	assert.True(t, cfg.Portal.Headful)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "/tmp/watcher.db", cfg.Store.Path)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "https://portal.example.test", cfg.Fetch.BaseURL,
		"replay base follows the portal override when not set itself")
}

func TestFromEnv_SeparateReplayBase(t *testing.T) {
	clearWatcherEnv(t)
	t.Setenv("QRIS_PORTAL_URL", "https://portal.example.test")
	t.Setenv("QRIS_API_BASE_URL", "https://api.example.test")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.Fetch.BaseURL)
	assert.Equal(t, "https://portal.example.test", cfg.Portal.RootURL)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "QRIS_PORTAL_URL")
	assert.Contains(t, err.Error(), "QRIS_API_BASE_URL")
	assert.Contains(t, err.Error(), "QRIS_DB_PATH")
	assert.Contains(t, err.Error(), "QRIS_POLL_INTERVAL")
}

func TestValidate_DefaultsPass(t *testing.T) {
	clearWatcherEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.NoError(t, cfg.Validate())
}

func TestRequireCredentials(t *testing.T) {
	clearWatcherEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	err = cfg.RequireCredentials()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "QRIS_USERNAME")
	assert.Contains(t, err.Error(), "QRIS_PASSWORD")

	cfg.Portal.Username = "merchant-01"
	cfg.Portal.Password = "s3cret"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestSecretsHeadersMap(t *testing.T) {
	s := SecretsConfig{
		SecretID:  "id-1",
		SecretKey: "key-1",
	}

	m := s.HeadersMap()

	assert.Equal(t, "id-1", m["secret-id"])
	assert.Equal(t, "key-1", m["secret-key"])
	assert.NotContains(t, m, "secret-token", "empty secrets stay out of the map")
	assert.NotContains(t, m, "session-item")
}
