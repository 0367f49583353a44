package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.LookbackDays != 14 {
		t.Errorf("LookbackDays = %d, want 14", cfg.LookbackDays)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %s, want 5m", cfg.RefreshInterval)
	}
	if !cfg.Autostart {
		t.Error("Autostart should default to true")
	}
	if cfg.DetectionPageLimit != 500 || cfg.ListItemPageLimit != 1000 {
		t.Errorf("page limits = %d/%d, want 500/1000", cfg.DetectionPageLimit, cfg.ListItemPageLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVAC_LOOKBACK_DAYS", "30")
	t.Setenv("EVAC_REFRESH_INTERVAL", "90s")
	t.Setenv("EVAC_AUTOSTART", "false")
	t.Setenv("QUEUE_BACKEND", "memory")

	cfg := Load()
	if cfg.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want 30", cfg.LookbackDays)
	}
	if cfg.RefreshInterval != 90*time.Second {
		t.Errorf("RefreshInterval = %s, want 90s", cfg.RefreshInterval)
	}
	if cfg.Autostart {
		t.Error("Autostart override ignored")
	}
	if cfg.QueueBackend != "memory" {
		t.Errorf("QueueBackend = %q, want memory", cfg.QueueBackend)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EVAC_LOOKBACK_DAYS", "two weeks")
	t.Setenv("EVAC_REFRESH_INTERVAL", "soon")
	t.Setenv("EVAC_AUTOSTART", "maybe")

	cfg := Load()
	if cfg.LookbackDays != 14 {
		t.Errorf("LookbackDays = %d, want fallback 14", cfg.LookbackDays)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %s, want fallback 5m", cfg.RefreshInterval)
	}
	if !cfg.Autostart {
		t.Error("Autostart should fall back to true")
	}
}
