// Package config loads the watcher configuration from the environment
// (optionally seeded from a .env file). Components never read ambient
// environment state directly; main constructs one Config and passes it down.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingConfig = errors.New("missing required configuration")

var loaded = false

// Load reads environment variables from a .env file if one exists.
func Load() error {
	if !loaded {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("error loading .env file: %w", err)
		}
		loaded = true
	}
	return nil
}

// Get retrieves an environment variable with a default value.
func Get(key, defaultValue string) string {
	_ = Load()
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBool retrieves an environment variable as a boolean.
func GetBool(key string, defaultValue bool) bool {
	_ = Load()
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetDuration retrieves an environment variable as a time.Duration.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	_ = Load()
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Config is the full watcher configuration, built once at process entry.
type Config struct {
	LogLevel string

	Portal  PortalConfig
	Fetch   FetchConfig
	Secrets SecretsConfig
	Store   StoreConfig
	Server  ServerConfig
	Monitor MonitorConfig
}

// PortalConfig configures the browser-driven login and capture flow.
// Selector and label fields override the built-in defaults; empty means
// "use the default". Labels are the fallback when a selector fails to match.
type PortalConfig struct {
	RootURL  string
	Username string
	Password string

	BrowserPath string
	Headful     bool

	LoginTimeout   time.Duration
	CaptureTimeout time.Duration

	UsernameSelector string
	UsernameLabel    string
	PasswordSelector string
	PasswordLabel    string
	SubmitSelector   string
	SubmitLabel      string
	CTALabel         string
}

// FetchConfig configures the direct replay client.
type FetchConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// SecretsConfig carries a pre-captured header set for the one-shot CLI,
// so it can replay without a browser session. The daemon captures its own.
type SecretsConfig struct {
	SecretID    string
	SecretKey   string
	SecretToken string
	SessionItem string
}

// HeadersMap lists the configured secrets under their wire header names,
// omitting empty values.
func (s SecretsConfig) HeadersMap() map[string]string {
	m := make(map[string]string, 4)
	for name, value := range map[string]string{
		"secret-id":    s.SecretID,
		"secret-key":   s.SecretKey,
		"secret-token": s.SecretToken,
		"session-item": s.SessionItem,
	} {
		if value != "" {
			m[name] = value
		}
	}
	return m
}

type StoreConfig struct {
	Path string
}

type ServerConfig struct {
	Addr    string
	Enabled bool
}

type MonitorConfig struct {
	Interval time.Duration
}

// FromEnv builds the complete configuration from the environment.
func FromEnv() (*Config, error) {
	if err := Load(); err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel: Get("QRIS_LOG_LEVEL", "info"),
		Portal: PortalConfig{
			RootURL:  Get("QRIS_PORTAL_URL", "https://qris.bankmandiri.co.id"),
			Username: Get("QRIS_USERNAME", ""),
			Password: Get("QRIS_PASSWORD", ""),

			BrowserPath: Get("QRIS_BROWSER_PATH", ""),
			Headful:     GetBool("QRIS_HEADFUL", false),

			LoginTimeout:   GetDuration("QRIS_LOGIN_TIMEOUT", 60*time.Second),
			CaptureTimeout: GetDuration("QRIS_CAPTURE_TIMEOUT", 30*time.Second),

			UsernameSelector: Get("QRIS_SELECTOR_USERNAME", ""),
			UsernameLabel:    Get("QRIS_LABEL_USERNAME", ""),
			PasswordSelector: Get("QRIS_SELECTOR_PASSWORD", ""),
			PasswordLabel:    Get("QRIS_LABEL_PASSWORD", ""),
			SubmitSelector:   Get("QRIS_SELECTOR_SUBMIT", ""),
			SubmitLabel:      Get("QRIS_LABEL_SUBMIT", ""),
			CTALabel:         Get("QRIS_LABEL_CTA", ""),
		},
		Fetch: FetchConfig{
			BaseURL:   Get("QRIS_API_BASE_URL", Get("QRIS_PORTAL_URL", "https://qris.bankmandiri.co.id")),
			Timeout:   GetDuration("QRIS_FETCH_TIMEOUT", 30*time.Second),
			UserAgent: Get("QRIS_USER_AGENT", ""),
		},
		Secrets: SecretsConfig{
			SecretID:    Get("QRIS_SECRET_ID", ""),
			SecretKey:   Get("QRIS_SECRET_KEY", ""),
			SecretToken: Get("QRIS_SECRET_TOKEN", ""),
			SessionItem: Get("QRIS_SESSION_ITEM", ""),
		},
		Store: StoreConfig{
			Path: Get("QRIS_DB_PATH", "qris.db"),
		},
		Server: ServerConfig{
			Addr:    Get("QRIS_SERVER_ADDR", ":8080"),
			Enabled: GetBool("QRIS_SERVER_ENABLED", true),
		},
		Monitor: MonitorConfig{
			Interval: GetDuration("QRIS_POLL_INTERVAL", 5*time.Minute),
		},
	}

	return cfg, nil
}

// Validate checks the settings every entry point needs.
func (c *Config) Validate() error {
	var problems []string

	if c.Portal.RootURL == "" {
		problems = append(problems, "QRIS_PORTAL_URL must not be empty")
	}
	if c.Fetch.BaseURL == "" {
		problems = append(problems, "QRIS_API_BASE_URL must not be empty")
	}
	if c.Store.Path == "" {
		problems = append(problems, "QRIS_DB_PATH must not be empty")
	}
	if c.Monitor.Interval <= 0 {
		problems = append(problems, "QRIS_POLL_INTERVAL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RequireCredentials checks the portal login credentials the daemon needs.
// The one-shot CLI skips this; it replays with pre-captured secrets instead.
func (c *Config) RequireCredentials() error {
	var missing []string

	if c.Portal.Username == "" {
		missing = append(missing, "QRIS_USERNAME")
	}
	if c.Portal.Password == "" {
		missing = append(missing, "QRIS_PASSWORD")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}
