package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WillMorrison/tailhole/internal/secrets"
)

// Load builds the configuration: defaults, then the optional YAML file
// (TAILHOLE_CONFIG or the path argument), then environment overrides.
// All validation errors are aggregated and returned together.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = getEnv("TAILHOLE_CONFIG")
	}

	var errs []string

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			errs = append(errs, "config file: "+err.Error())
		} else {
			slog.Info("loaded configuration from file", slog.String("path", path))
		}
	}

	errs = append(errs, applyEnv(cfg)...)
	errs = append(errs, validate(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

// loadFile merges a YAML config file into cfg. Unknown keys are rejected so
// typos fail loudly.
func loadFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with TAILHOLE_* environment variables.
func applyEnv(cfg *Config) []string {
	var errs []string

	if v := getEnv("TAILHOLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("TAILHOLE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getEnv("TAILHOLE_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
	if v := getEnv("TAILHOLE_STACK_FILE"); v != "" {
		cfg.StackFile = v
	}
	if v := getEnv("TAILHOLE_POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := getEnv("TAILHOLE_DRY_RUN"); v != "" {
		cfg.DryRun = parseBool(v, cfg.DryRun)
	}
	if v := getEnv("TAILHOLE_PULL"); v != "" {
		cfg.Pull = parseBool(v, cfg.Pull)
	}
	if v := getEnv("TAILHOLE_STOP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			cfg.StopTimeout = d
		} else {
			errs = append(errs, "TAILHOLE_STOP_TIMEOUT: invalid duration (use format like 10s, 1m)")
		}
	}
	if v := getEnv("TAILHOLE_CONVERGE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			cfg.ConvergeInterval = d
		} else {
			errs = append(errs, "TAILHOLE_CONVERGE_INTERVAL: invalid duration (use format like 60s, 5m)")
		}
	}
	if v := getEnv("TAILHOLE_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 1 && port <= 65535 {
			cfg.HealthPort = port
		} else {
			errs = append(errs, "TAILHOLE_HEALTH_PORT: invalid port number")
		}
	}
	if v := getEnv("TAILHOLE_PIHOLE_URL"); v != "" {
		cfg.PiholeURL = v
	}
	if v := getEnv("TAILHOLE_RESOLVER"); v != "" {
		cfg.Resolver = v
	}
	if v := getEnv("TAILHOLE_BLOCKING_MODE"); v != "" {
		cfg.BlockingMode = strings.ToUpper(v)
	}

	// Secrets support the _FILE suffix for Docker secrets.
	if v, err := secrets.FromEnv("TAILHOLE_PIHOLE_PASSWORD"); err != nil {
		errs = append(errs, "TAILHOLE_PIHOLE_PASSWORD_FILE: "+err.Error())
	} else if v != "" {
		cfg.PiholePassword = v
	}

	if v := getEnv("TAILHOLE_DEPLOY_HOST"); v != "" {
		cfg.Deploy.Host = v
	}
	if v := getEnv("TAILHOLE_DEPLOY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 1 && port <= 65535 {
			cfg.Deploy.Port = port
		} else {
			errs = append(errs, "TAILHOLE_DEPLOY_PORT: invalid port number")
		}
	}
	if v := getEnv("TAILHOLE_DEPLOY_USER"); v != "" {
		cfg.Deploy.User = v
	}
	if v := getEnv("TAILHOLE_DEPLOY_KEY_FILE"); v != "" {
		cfg.Deploy.KeyFile = v
	}
	if v := getEnv("TAILHOLE_DEPLOY_PATH"); v != "" {
		cfg.Deploy.Path = v
	}
	if v := getEnv("TAILHOLE_DEPLOY_RELOAD_CMD"); v != "" {
		cfg.Deploy.ReloadCmd = v
	}
	if v := getEnv("TAILHOLE_DEPLOY_KNOWN_HOSTS"); v != "" {
		cfg.Deploy.KnownHosts = v
	}
	if v, err := secrets.FromEnv("TAILHOLE_DEPLOY_PASSWORD"); err != nil {
		errs = append(errs, "TAILHOLE_DEPLOY_PASSWORD_FILE: "+err.Error())
	} else if v != "" {
		cfg.Deploy.Password = v
	}

	return errs
}

// getEnv retrieves an environment variable value.
func getEnv(key string) string {
	return os.Getenv(key)
}

// parseBool parses a boolean string, returning defaultValue on parse failure.
// Accepts: true/false, 1/0, yes/no, on/off (case-insensitive).
func parseBool(s string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
