// Package config loads and validates the immutable configuration for one
// reconciliation run. All validation happens before the first network
// call; a Config that loads successfully is safe to run with.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultConcurrency       = 8
	DefaultMaxDepth          = 10
	DefaultRequestsPerMinute = 250
	DefaultRunTimeout        = 30 * time.Minute
)

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Config is the run configuration. Immutable after Load.
type Config struct {
	// Domain is the helpdesk subdomain (e.g. "acme" for
	// acme.freshdesk.com). BaseURL, when set, overrides the derived URL
	// and is used as-is; the mock server is reached this way.
	Domain  string
	BaseURL string

	// APIKey authenticates every request. Loaded from FRESHDESK_API_KEY,
	// or decrypted from an encrypted key file by the caller.
	APIKey string

	// KeyFile and KeyPassphrase locate an encrypted API key at rest,
	// used when FRESHDESK_API_KEY is unset.
	KeyFile       string
	KeyPassphrase string

	Concurrency       int
	MaxDepth          int
	RequestsPerMinute int
	DryRun            bool
	RulesPath         string
	RunTimeout        time.Duration

	// OpenOnReassign reopens a ticket whenever its group changes.
	OpenOnReassign bool

	// DatabaseURL enables run-history persistence. Empty disables it.
	DatabaseURL string
}

// Load reads configuration from the environment, with a .env file as a
// convenience for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Domain:            os.Getenv("FRESHDESK_DOMAIN"),
		BaseURL:           os.Getenv("FRESHDESK_BASE_URL"),
		APIKey:            os.Getenv("FRESHDESK_API_KEY"),
		KeyFile:           os.Getenv("FRESHDESK_KEY_FILE"),
		KeyPassphrase:     os.Getenv("FRESHDESK_KEY_PASSPHRASE"),
		RulesPath:         os.Getenv("RECONCILE_RULES"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Concurrency:       DefaultConcurrency,
		MaxDepth:          DefaultMaxDepth,
		RequestsPerMinute: DefaultRequestsPerMinute,
		RunTimeout:        DefaultRunTimeout,
	}

	var err error
	if cfg.Concurrency, err = intVar("RECONCILE_CONCURRENCY", cfg.Concurrency); err != nil {
		return nil, err
	}
	if cfg.MaxDepth, err = intVar("RECONCILE_MAX_DEPTH", cfg.MaxDepth); err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute, err = intVar("RECONCILE_RPM", cfg.RequestsPerMinute); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = boolVar("RECONCILE_DRY_RUN", false); err != nil {
		return nil, err
	}
	if cfg.OpenOnReassign, err = boolVar("RECONCILE_OPEN_ON_REASSIGN", false); err != nil {
		return nil, err
	}
	if raw := os.Getenv("RECONCILE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, &ValidationError{Field: "RECONCILE_TIMEOUT", Msg: err.Error()}
		}
		cfg.RunTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field consistency. Called by Load; exported so tests
// and callers building a Config by hand get the same checks.
func (c *Config) Validate() error {
	if c.Domain == "" && c.BaseURL == "" {
		return &ValidationError{Field: "FRESHDESK_DOMAIN", Msg: "either a domain or a base URL is required"}
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http") {
		return &ValidationError{Field: "FRESHDESK_BASE_URL", Msg: "must be an absolute http(s) URL"}
	}
	if c.APIKey == "" && c.KeyFile == "" {
		return &ValidationError{Field: "FRESHDESK_API_KEY", Msg: "an API key or an encrypted key file is required"}
	}
	if c.KeyFile != "" && c.APIKey == "" && c.KeyPassphrase == "" {
		return &ValidationError{Field: "FRESHDESK_KEY_PASSPHRASE", Msg: "required to decrypt the key file"}
	}
	if c.Concurrency < 1 {
		return &ValidationError{Field: "RECONCILE_CONCURRENCY", Msg: "must be at least 1"}
	}
	if c.MaxDepth < 0 {
		return &ValidationError{Field: "RECONCILE_MAX_DEPTH", Msg: "must not be negative"}
	}
	if c.RequestsPerMinute < 1 {
		return &ValidationError{Field: "RECONCILE_RPM", Msg: "must be at least 1"}
	}
	if c.RunTimeout <= 0 {
		return &ValidationError{Field: "RECONCILE_TIMEOUT", Msg: "must be positive"}
	}
	return nil
}

// APIBaseURL resolves the effective base URL for API calls.
func (c *Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.freshdesk.com", c.Domain)
}

func intVar(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: name, Msg: "not an integer"}
	}
	return v, nil
}

func boolVar(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ValidationError{Field: name, Msg: "not a boolean"}
	}
	return v, nil
}
