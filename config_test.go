package roomkit

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.MemoryLimitMB != 128 {
		t.Errorf("MemoryLimitMB = %d", cfg.MemoryLimitMB)
	}
	if cfg.SignalDialTimeout != 10*time.Second {
		t.Errorf("SignalDialTimeout = %v", cfg.SignalDialTimeout)
	}
	if cfg.MaxSignalMessageBytes != 1<<20 {
		t.Errorf("MaxSignalMessageBytes = %d", cfg.MaxSignalMessageBytes)
	}
	if cfg.MinTimerInterval != time.Millisecond || cfg.PumpInterval != 0 {
		t.Errorf("timer intervals = %v, %v", cfg.MinTimerInterval, cfg.PumpInterval)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("ROOMKIT_MEMORY_LIMIT_MB", "64")
	t.Setenv("ROOMKIT_SIGNAL_DIAL_TIMEOUT", "2s")
	t.Setenv("ROOMKIT_JOURNAL_PATH", "/tmp/j.db")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.MemoryLimitMB != 64 || cfg.SignalDialTimeout != 2*time.Second || cfg.JournalPath != "/tmp/j.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("ROOMKIT_MIN_TIMER_INTERVAL", "soon")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
	rc := cfg.runtimeConfig()
	if rc.SignalDialTimeout != 10*time.Second || rc.MaxSignalMessageBytes != 1<<20 || rc.MinTimerInterval != time.Millisecond {
		t.Errorf("runtime config = %+v", rc)
	}
}
