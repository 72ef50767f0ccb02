package roomkit

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cryguy/roomkit/internal/core"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds engine configuration. Zero fields fall back to the
// defaults applied by LoadConfigFromEnv and NewEngine.
type Config struct {
	MemoryLimitMB         int           `env:"ROOMKIT_MEMORY_LIMIT_MB" envDefault:"128"`
	SignalDialTimeout     time.Duration `env:"ROOMKIT_SIGNAL_DIAL_TIMEOUT" envDefault:"10s"`
	MaxSignalMessageBytes int64         `env:"ROOMKIT_MAX_SIGNAL_MESSAGE_BYTES" envDefault:"1048576"`
	MinTimerInterval      time.Duration `env:"ROOMKIT_MIN_TIMER_INTERVAL" envDefault:"1ms"`
	PumpInterval          time.Duration `env:"ROOMKIT_PUMP_INTERVAL" envDefault:"0s"`

	// ClientDir, when set, holds a custom room client whose index.js is
	// bundled with esbuild and loaded instead of the built-in client.
	ClientDir string `env:"ROOMKIT_CLIENT_DIR"`
	// CacheDir stores brotli-compressed client bundles.
	CacheDir string `env:"ROOMKIT_CACHE_DIR"`
	// JournalPath, when set, records every crossing into a SQLite file.
	JournalPath string `env:"ROOMKIT_JOURNAL_PATH"`

	Logger         *zap.Logger          `env:"-"`
	TracerProvider trace.TracerProvider `env:"-"`
}

// LoadConfigFromEnv reads Config from ROOMKIT_* environment variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.SignalDialTimeout <= 0 {
		c.SignalDialTimeout = 10 * time.Second
	}
	if c.MaxSignalMessageBytes <= 0 {
		c.MaxSignalMessageBytes = 1 << 20
	}
	if c.MinTimerInterval <= 0 {
		c.MinTimerInterval = time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	return c
}

func (c Config) runtimeConfig() core.RuntimeConfig {
	return core.RuntimeConfig{
		MemoryLimitMB:         c.MemoryLimitMB,
		SignalDialTimeout:     c.SignalDialTimeout,
		MaxSignalMessageBytes: c.MaxSignalMessageBytes,
		MinTimerInterval:      c.MinTimerInterval,
	}
}
