package config

import "testing"

func TestValidateTieredDefaultsAreClean(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config should have no fatals: %v", result.Fatals)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("default config should have no warnings: %v", result.Warnings)
	}
}

func TestValidateTieredUnknownBackendIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Backend = "vnc"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unknown backend should be fatal")
	}
}

func TestValidateTieredFPSClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FPS = 0
	result := cfg.ValidateTiered()

	// Should NOT be a fatal since it's auto-corrected
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped fps")
	}
	if cfg.FPS != 1 {
		t.Fatalf("FPS = %d, want 1 (clamped)", cfg.FPS)
	}
}

func TestValidateTieredHighFPSClamping(t *testing.T) {
	cfg := Default()
	cfg.FPS = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.FPS != 240 {
		t.Fatalf("FPS = %d, want 240 (clamped)", cfg.FPS)
	}
}

func TestValidateTieredNegativeDisplayClamping(t *testing.T) {
	cfg := Default()
	cfg.DisplayIndex = -3
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped display should be warning: %v", result.Fatals)
	}
	if cfg.DisplayIndex != 0 {
		t.Fatalf("DisplayIndex = %d, want 0", cfg.DisplayIndex)
	}
}

func TestValidateTieredInvalidLogLevelIsFatal(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid log level should be fatal")
	}
}

func TestValidateTieredInvalidLogFormatIsFatal(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid log format should be fatal")
	}
}
