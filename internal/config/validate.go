package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/framecast/agent/internal/capture"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits problems into fatals (the config cannot be used)
// and warnings (the value was auto-corrected).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// ValidateTiered checks the config. Out-of-range numeric values are clamped
// to a safe range and reported as warnings; values with no safe correction
// are fatal.
func (c *Config) ValidateTiered() *ValidationResult {
	r := &ValidationResult{}

	if c.FPS < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps %d is below minimum 1, clamping", c.FPS))
		c.FPS = 1
	} else if c.FPS > 240 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps %d exceeds maximum 240, clamping", c.FPS))
		c.FPS = 240
	}

	if c.DisplayIndex < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("display %d is negative, clamping to 0", c.DisplayIndex))
		c.DisplayIndex = 0
	}

	if _, err := capture.ParseKind(c.Backend); err != nil {
		r.Fatals = append(r.Fatals, err)
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return r
}
