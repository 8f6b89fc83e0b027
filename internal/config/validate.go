package config

import (
	"errors"
	"fmt"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Validate checks every field and returns all problems joined. Each wraps
// detloader.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), detloader.ErrInvalidConfig))
	}

	if c.StagingDir == "" {
		fail("staging_dir is required")
	}
	if c.StateFile == "" {
		fail("state_file is required")
	}

	if c.Warehouse.Schema == "" {
		fail("warehouse.schema is required")
	}
	if c.Warehouse.Table == "" {
		fail("warehouse.table is required")
	}
	if c.Warehouse.Port < 0 || c.Warehouse.Port > 65535 {
		fail("warehouse.port %d out of range", c.Warehouse.Port)
	}
	if c.Warehouse.Retention < 0 {
		fail("warehouse.retention must not be negative")
	}
	if _, err := detloader.ParseAuthMethod(c.Warehouse.AuthMethod); err != nil {
		errs = append(errs, fmt.Errorf("warehouse.auth_method: %w: %w", err, detloader.ErrInvalidConfig))
	}

	for name, tr := range map[string]TrackConfig{"image": c.Tracks.Image, "video": c.Tracks.Video} {
		if tr.CountThreshold < 0 {
			fail("tracks.%s.count_threshold must not be negative", name)
		}
		if tr.Interval < 0 {
			fail("tracks.%s.interval must not be negative", name)
		}
		if tr.CountThreshold == 0 && tr.Interval == 0 {
			fail("tracks.%s needs count_threshold or interval", name)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		fail("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelay <= 0 {
		fail("retry.initial_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		fail("retry.max_delay must not be less than retry.initial_delay")
	}
	if c.Retry.Multiplier < 1 {
		fail("retry.multiplier must be at least 1")
	}

	if c.Ledger.MaxEntries <= 0 {
		fail("ledger.max_entries must be positive")
	}
	if c.Ledger.Retention <= 0 {
		fail("ledger.retention must be positive")
	}
	if c.Quarantine.MaxRows < 0 {
		fail("quarantine.max_rows must not be negative")
	}

	if c.Transform.MinConfidence < 0 || c.Transform.MinConfidence > 1 {
		fail("transform.min_confidence must be within [0,1]")
	}
	if c.Transform.ClampEpsilon < 0 || c.Transform.ClampEpsilon >= 0.5 {
		fail("transform.clamp_epsilon must be within [0,0.5)")
	}

	if c.Daemon.CheckInterval <= 0 {
		fail("daemon.check_interval must be positive")
	}
	if c.Daemon.DrainTimeout <= 0 {
		fail("daemon.drain_timeout must be positive")
	}

	return errors.Join(errs...)
}
