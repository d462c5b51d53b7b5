package config

import (
	"errors"
	"fmt"
	"math"
	"net"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Assets are needed to launch anything
	if cfg.AssetsDir == "" && !cfg.PrintCmd {
		errs = append(errs, ValidationError{
			Field:   "assets_dir",
			Message: "simulator assets directory is required",
		})
	}

	if cfg.Port < 1 || cfg.Port > math.MaxUint16 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", cfg.Port),
		})
	}

	if cfg.Shards < 1 {
		errs = append(errs, ValidationError{
			Field:   "shards",
			Message: "must be at least 1",
		})
	}

	if cfg.RoundsPerEpoch < 1 {
		errs = append(errs, ValidationError{
			Field:   "rounds_per_epoch",
			Message: "must be at least 1",
		})
	}

	if cfg.RoundDuration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "round_duration",
			Message: "must be positive",
		})
	}

	if cfg.Autogenerate < 0 {
		errs = append(errs, ValidationError{
			Field:   "autogenerate",
			Message: "must not be negative (0 disables)",
		})
	}

	if cfg.ReadyTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "ready_timeout",
			Message: "must be positive",
		})
	}

	if cfg.RPCTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rpc_timeout",
			Message: "must be positive",
		})
	}

	if cfg.MaxRestarts < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_restarts",
			Message: "must not be negative",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("must be host:port (%v)", err),
			})
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
