package config

import (
	"fmt"
	"strings"
)

// ValidationError aggregates configuration problems so they can all be
// reported in one pass.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validate performs cross-field validation on the merged configuration.
func validate(cfg *Config) []string {
	var errs []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log_format: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	switch cfg.BlockingMode {
	case "NULL", "NXDOMAIN":
	default:
		errs = append(errs, fmt.Sprintf("blocking_mode: invalid value %q (must be NULL or NXDOMAIN)", cfg.BlockingMode))
	}

	if cfg.StackFile == "" {
		errs = append(errs, "stack_file: path is required")
	}

	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		errs = append(errs, fmt.Sprintf("health_port: must be between 1 and 65535, got %d", cfg.HealthPort))
	}

	if cfg.Deploy.Enabled() {
		if cfg.Deploy.User == "" {
			errs = append(errs, "deploy.user: required when deploy.host is set")
		}
		if cfg.Deploy.KeyFile == "" && cfg.Deploy.Password == "" {
			errs = append(errs, "deploy: either key_file or TAILHOLE_DEPLOY_PASSWORD is required")
		}
		if cfg.Deploy.Port < 1 || cfg.Deploy.Port > 65535 {
			errs = append(errs, fmt.Sprintf("deploy.port: must be between 1 and 65535, got %d", cfg.Deploy.Port))
		}
	}

	return errs
}
