package rudt

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coalforge/rudt/stats"
)

// Config holds the tunables enumerated by the transport: resend timing,
// keep-alive cadence, duplicate-window sizing, and the maximum datagram
// size. Logger and Stats are not serialized; set them with WithLogger and
// WithStats.
type Config struct {
	ResendTimeoutInitial     time.Duration
	ResendTimeoutMax         time.Duration
	ResendRetryLimit         int
	KeepAliveIntervalDefault time.Duration
	KeepAliveIntervalMin     time.Duration
	KeepAliveIntervalMax     time.Duration
	DuplicateWindow          int
	MaxPacketSize            int

	Logger zerolog.Logger
	Stats  stats.Sink
}

// DefaultConfig returns the configuration defaults enumerated by the
// transport specification.
func DefaultConfig() Config {
	return Config{
		ResendTimeoutInitial:     100 * time.Millisecond,
		ResendTimeoutMax:         1000 * time.Millisecond,
		ResendRetryLimit:         8,
		KeepAliveIntervalDefault: 1500 * time.Millisecond,
		KeepAliveIntervalMin:     100 * time.Millisecond,
		KeepAliveIntervalMax:     15000 * time.Millisecond,
		DuplicateWindow:          1024,
		MaxPacketSize:            65535,
		Logger:                   zerolog.Nop(),
		Stats:                    stats.Noop{},
	}
}

// Option configures a Config constructed with NewConfig.
type Option func(*Config)

// WithLogger sets the structured logger every connection and the
// listener derive their per-peer loggers from.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithStats sets the counter sink shared by the listener and every
// connection it accepts.
func WithStats(s stats.Sink) Option {
	return func(c *Config) { c.Stats = s }
}

// WithResendLimits overrides the resend timing defaults.
func WithResendLimits(initial, max time.Duration, retryLimit int) Option {
	return func(c *Config) {
		c.ResendTimeoutInitial = initial
		c.ResendTimeoutMax = max
		c.ResendRetryLimit = retryLimit
	}
}

// WithKeepAlive overrides the keep-alive cadence defaults.
func WithKeepAlive(def, min, max time.Duration) Option {
	return func(c *Config) {
		c.KeepAliveIntervalDefault = def
		c.KeepAliveIntervalMin = min
		c.KeepAliveIntervalMax = max
	}
}

// WithDuplicateWindow overrides the duplicate-suppression window hint.
func WithDuplicateWindow(n int) Option {
	return func(c *Config) { c.DuplicateWindow = n }
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// yamlConfig is the on-disk shape of Config. Durations are strings
// (accepted by time.ParseDuration) rather than raw nanosecond integers,
// since that is what a human edits by hand.
type yamlConfig struct {
	ResendTimeoutInitial     string `yaml:"resend_timeout_initial"`
	ResendTimeoutMax         string `yaml:"resend_timeout_max"`
	ResendRetryLimit         int    `yaml:"resend_retry_limit"`
	KeepAliveIntervalDefault string `yaml:"keep_alive_interval_default"`
	KeepAliveIntervalMin     string `yaml:"keep_alive_interval_min"`
	KeepAliveIntervalMax     string `yaml:"keep_alive_interval_max"`
	DuplicateWindow          int    `yaml:"duplicate_window"`
	MaxPacketSize            int    `yaml:"max_packet_size"`
}

// LoadConfig reads a YAML config file, applying DefaultConfig for any
// field left unset.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if err := overrideDuration(&cfg.ResendTimeoutInitial, y.ResendTimeoutInitial); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.ResendTimeoutMax, y.ResendTimeoutMax); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.KeepAliveIntervalDefault, y.KeepAliveIntervalDefault); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.KeepAliveIntervalMin, y.KeepAliveIntervalMin); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.KeepAliveIntervalMax, y.KeepAliveIntervalMax); err != nil {
		return Config{}, err
	}

	if y.ResendRetryLimit > 0 {
		cfg.ResendRetryLimit = y.ResendRetryLimit
	}
	if y.DuplicateWindow > 0 {
		cfg.DuplicateWindow = y.DuplicateWindow
	}
	if y.MaxPacketSize > 0 {
		cfg.MaxPacketSize = y.MaxPacketSize
	}

	return cfg, nil
}

func overrideDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
