// Package config loads runtime settings from the environment and keeps the
// merchant profile on disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"lnurlpos/internal/export"
	"lnurlpos/internal/payments"
	"lnurlpos/internal/rates"
)

// Prefix namespaces every environment variable, e.g. LNURLPOS_DATA_DIR.
const Prefix = "LNURLPOS"

// Config holds runtime settings. The merchant identity lives in Profile.
type Config struct {
	DataDir        string        `default:"./data" envconfig:"DATA_DIR"`
	RateFeedURL    string        `envconfig:"RATE_FEED_URL"`
	CacheTTL       time.Duration `default:"10m" envconfig:"CACHE_TTL"`
	ResolveTimeout time.Duration `default:"30s" envconfig:"RESOLVE_TIMEOUT"`
	HTTPTimeout    time.Duration `default:"15s" envconfig:"HTTP_TIMEOUT"`

	PendingInterval time.Duration `default:"1s" envconfig:"PENDING_INTERVAL"`
	ErrorInterval   time.Duration `default:"10s" envconfig:"ERROR_INTERVAL"`
	TransientDelay  time.Duration `default:"0s" envconfig:"TRANSIENT_DELAY"`
	ErrorPolicy     string        `default:"retry" envconfig:"ERROR_POLICY"`

	// Server
	HTTPAddr        string   `default:":8080" envconfig:"HTTP_ADDR"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS"`
	Dev             bool     `default:"false" envconfig:"DEV"`
	MaxPendingPerIP int      `default:"3" envconfig:"MAX_PENDING_PER_IP"`

	// Export sink; local exports dir unless a bucket is set
	B2Endpoint  string `envconfig:"B2_ENDPOINT"`
	B2KeyID     string `envconfig:"B2_KEY_ID"`
	B2AppKey    string `envconfig:"B2_APP_KEY"`
	B2Bucket    string `envconfig:"B2_BUCKET"`
	B2Prefix    string `envconfig:"B2_PREFIX"`
	B2PublicURL string `envconfig:"B2_PUBLIC_URL"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks settings that envconfig cannot.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must be set")
	}
	if _, err := payments.ParseErrorPolicy(c.ErrorPolicy); err != nil {
		return err
	}
	if c.MaxPendingPerIP < 1 {
		return fmt.Errorf("max pending per IP must be at least 1, got %d", c.MaxPendingPerIP)
	}
	for name, d := range map[string]time.Duration{
		"cache TTL":        c.CacheTTL,
		"resolve timeout":  c.ResolveTimeout,
		"pending interval": c.PendingInterval,
		"error interval":   c.ErrorInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.TransientDelay < 0 {
		return fmt.Errorf("transient delay must not be negative, got %s", c.TransientDelay)
	}
	return nil
}

// DBPath is the SQLite database inside the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data.sqlite")
}

// ExportDir is where local exports are written.
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// FeedURL returns the configured rate feed or the default one.
func (c *Config) FeedURL() string {
	if c.RateFeedURL == "" {
		return rates.DefaultFeedURL
	}
	return c.RateFeedURL
}

// Verifier returns the poll timing.
func (c *Config) Verifier() payments.VerifierConfig {
	policy, err := payments.ParseErrorPolicy(c.ErrorPolicy)
	if err != nil {
		policy = payments.ErrorPolicyRetry
	}
	return payments.VerifierConfig{
		PendingInterval: c.PendingInterval,
		ErrorInterval:   c.ErrorInterval,
		TransientDelay:  c.TransientDelay,
		ErrorPolicy:     policy,
	}
}

// B2 returns the bucket settings for export uploads.
func (c *Config) B2() export.B2Config {
	return export.B2Config{
		Endpoint:  c.B2Endpoint,
		KeyID:     c.B2KeyID,
		AppKey:    c.B2AppKey,
		Bucket:    c.B2Bucket,
		Prefix:    c.B2Prefix,
		PublicURL: c.B2PublicURL,
	}
}

// EnsureDataDir creates the data dir if needed.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}
