package config

import (
	"errors"
	"fmt"
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
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Workers < 0 {
		errs = append(errs, ValidationError{
			Field:   "workers",
			Message: "must not be negative",
		})
	}

	if cfg.StartWorkerDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "start_worker_delay",
			Message: "must not be negative",
		})
	}

	if cfg.StartWorkerDelayRand < 0 || cfg.StartWorkerDelayRand > 1 {
		errs = append(errs, ValidationError{
			Field:   "start_worker_delay_rand",
			Message: fmt.Sprintf("must be in [0, 1] (got %v)", cfg.StartWorkerDelayRand),
		})
	}

	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "heartbeat_interval",
			Message: "must be positive",
		})
	}

	if cfg.HeartbeatTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "heartbeat_timeout",
			Message: "must be positive",
		})
	} else if cfg.HeartbeatInterval > 0 && cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		errs = append(errs, ValidationError{
			Field:   "heartbeat_timeout",
			Message: fmt.Sprintf("must exceed heartbeat_interval (%v), got %v", cfg.HeartbeatInterval, cfg.HeartbeatTimeout),
		})
	}

	for _, sig := range []struct {
		field string
		name  string
	}{
		{"graceful_kill_signal", cfg.GracefulKillSignal},
		{"immediate_kill_signal", cfg.ImmediateKillSignal},
	} {
		if _, err := ParseSignal(sig.name); err != nil {
			errs = append(errs, ValidationError{
				Field:   sig.field,
				Message: err.Error(),
			})
		}
	}

	if cfg.GracefulKillInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "graceful_kill_interval",
			Message: "must be positive",
		})
	}
	if cfg.GracefulKillIntervalIncrement < 0 {
		errs = append(errs, ValidationError{
			Field:   "graceful_kill_interval_increment",
			Message: "must not be negative",
		})
	}
	if cfg.ImmediateKillInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "immediate_kill_interval",
			Message: "must be positive",
		})
	}
	if cfg.ImmediateKillIntervalIncrement < 0 {
		errs = append(errs, ValidationError{
			Field:   "immediate_kill_interval_increment",
			Message: "must not be negative",
		})
	}
	if cfg.ImmediateKillTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "immediate_kill_timeout",
			Message: "must be positive",
		})
	}

	if cfg.TickInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "tick_interval",
			Message: "must be positive",
		})
	}

	switch cfg.CloexecMode {
	case CloexecBoth, CloexecTargetOnly, CloexecMonitorOnly:
	default:
		errs = append(errs, ValidationError{
			Field:   "cloexec_mode",
			Message: fmt.Sprintf("must be one of: both, target_only, monitor_only (got %q)", cfg.CloexecMode),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
