package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables holding secrets. They take precedence over the
// config file so secrets can stay out of it.
const (
	EnvCookie      = "TICKETBOT_COOKIE"
	EnvNostrSecret = "TICKETBOT_NOSTR_SECRET"
)

// Config holds all application configuration.
type Config struct {
	Verbose  bool
	Log      LogConfig
	Provider ProviderConfig
	Solver   SolverConfig
	Run      RunConfig
	Database DatabaseConfig
	Nostr    NostrConfig
	Metrics  MetricsConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// ProviderConfig identifies the ticket and the account buying it.
type ProviderConfig struct {
	BaseURL         string
	GaiaURL         string
	Cookie          string
	ProjectID       int64
	ScreenID        int64
	SkuID           int64
	Count           int
	BuyerInfo       string // JSON array of buyer records, passed through as-is
	RequestInterval time.Duration
	Timeout         time.Duration
}

// SolverConfig points at the image challenge solver.
type SolverConfig struct {
	URL     string
	Timeout time.Duration
}

// RunConfig holds workflow timing.
type RunConfig struct {
	GraceMinutes int
	HoldBackoff  time.Duration
	FatalGrace   time.Duration
}

// DatabaseConfig holds journal settings.
type DatabaseConfig struct {
	Path string
}

// NostrConfig holds operator notification settings. Notifications are off
// unless NotifyNpub is set.
type NostrConfig struct {
	Relays     []string
	NotifyNpub string
	SecretHex  string
}

// MetricsConfig holds the Prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string
}

// Load reads configuration from Viper and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{
		Verbose: viper.GetBool("verbose"),
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
			Output: viper.GetString("log.output"),
		},
		Provider: ProviderConfig{
			BaseURL:         viper.GetString("provider.base_url"),
			GaiaURL:         viper.GetString("provider.gaia_url"),
			Cookie:          viper.GetString("provider.cookie"),
			ProjectID:       viper.GetInt64("provider.project_id"),
			ScreenID:        viper.GetInt64("provider.screen_id"),
			SkuID:           viper.GetInt64("provider.sku_id"),
			Count:           viper.GetInt("provider.count"),
			BuyerInfo:       viper.GetString("provider.buyer_info"),
			RequestInterval: viper.GetDuration("provider.request_interval"),
			Timeout:         viper.GetDuration("provider.timeout"),
		},
		Solver: SolverConfig{
			URL:     viper.GetString("solver.url"),
			Timeout: viper.GetDuration("solver.timeout"),
		},
		Run: RunConfig{
			GraceMinutes: viper.GetInt("run.grace_minutes"),
			HoldBackoff:  viper.GetDuration("run.hold_backoff"),
			FatalGrace:   viper.GetDuration("run.fatal_grace"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Nostr: NostrConfig{
			Relays:     viper.GetStringSlice("nostr.relays"),
			NotifyNpub: viper.GetString("nostr.notify_npub"),
			SecretHex:  viper.GetString("nostr.secret"),
		},
		Metrics: MetricsConfig{
			Addr: viper.GetString("metrics.addr"),
		},
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadWithSecrets loads configuration, overlays secrets from the
// environment and validates the result.
func LoadWithSecrets() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvCookie); v != "" {
		cfg.Provider.Cookie = v
	}
	if v := os.Getenv(EnvNostrSecret); v != "" {
		cfg.Nostr.SecretHex = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
		if c.Verbose {
			c.Log.Level = "debug"
		}
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Provider.Count == 0 {
		c.Provider.Count = 1
	}
	if c.Provider.RequestInterval == 0 {
		c.Provider.RequestInterval = 300 * time.Millisecond
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Solver.Timeout == 0 {
		c.Solver.Timeout = 30 * time.Second
	}
	if c.Run.GraceMinutes == 0 {
		c.Run.GraceMinutes = 5
	}
	if c.Run.HoldBackoff == 0 {
		c.Run.HoldBackoff = 4880 * time.Millisecond
	}
	if c.Run.FatalGrace == 0 {
		c.Run.FatalGrace = 5 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "ticketbot.db"
	}
	if len(c.Nostr.Relays) == 0 {
		c.Nostr.Relays = []string{"wss://relay.damus.io"}
	}
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Provider.ProjectID <= 0:
		return fmt.Errorf("%w: provider.project_id is required", ErrInvalidConfig)
	case c.Provider.ScreenID <= 0:
		return fmt.Errorf("%w: provider.screen_id is required", ErrInvalidConfig)
	case c.Provider.SkuID <= 0:
		return fmt.Errorf("%w: provider.sku_id is required", ErrInvalidConfig)
	case c.Provider.Count < 1:
		return fmt.Errorf("%w: provider.count must be at least 1", ErrInvalidConfig)
	case c.Provider.Cookie == "":
		return fmt.Errorf("%w: provider.cookie or %s is required", ErrInvalidConfig, EnvCookie)
	case c.Run.GraceMinutes < 0:
		return fmt.Errorf("%w: run.grace_minutes must not be negative", ErrInvalidConfig)
	case c.NotifyEnabled() && c.Nostr.SecretHex == "":
		return fmt.Errorf("%w: nostr.secret or %s is required when nostr.notify_npub is set", ErrInvalidConfig, EnvNostrSecret)
	}
	return nil
}

// NotifyEnabled reports whether operator notifications are configured.
func (c *Config) NotifyEnabled() bool {
	return c.Nostr.NotifyNpub != ""
}

// GraceWindow returns the shortage grace period after the sale opens.
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.Run.GraceMinutes) * time.Minute
}
