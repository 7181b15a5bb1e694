package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.DockerHost != DefaultDockerHost {
		t.Errorf("DockerHost = %q, want %q", cfg.DockerHost, DefaultDockerHost)
	}
	if cfg.StackFile != "tailhole.yaml" {
		t.Errorf("StackFile = %q, want tailhole.yaml", cfg.StackFile)
	}
	if cfg.ConvergeInterval != 60*time.Second {
		t.Errorf("ConvergeInterval = %v, want 60s", cfg.ConvergeInterval)
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("HealthPort = %d, want 8080", cfg.HealthPort)
	}
	if cfg.BlockingMode != "NULL" {
		t.Errorf("BlockingMode = %q, want NULL", cfg.BlockingMode)
	}
	if cfg.Deploy.Enabled() {
		t.Error("deploy should be disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
log_format: text
stack_file: /etc/tailhole/stack.yaml
converge_interval: 5m
blocking_mode: NXDOMAIN
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.StackFile != "/etc/tailhole/stack.yaml" {
		t.Errorf("StackFile = %q", cfg.StackFile)
	}
	if cfg.ConvergeInterval != 5*time.Minute {
		t.Errorf("ConvergeInterval = %v, want 5m", cfg.ConvergeInterval)
	}
	if cfg.BlockingMode != "NXDOMAIN" {
		t.Errorf("BlockingMode = %q, want NXDOMAIN", cfg.BlockingMode)
	}
}

func TestLoadUnknownFileKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stack_fiel: oops.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TAILHOLE_LOG_LEVEL", "warn")
	t.Setenv("TAILHOLE_DRY_RUN", "true")
	t.Setenv("TAILHOLE_HEALTH_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, env should win over file", cfg.LogLevel)
	}
	if !cfg.DryRun {
		t.Error("DryRun should be true")
	}
	if cfg.HealthPort != 9090 {
		t.Errorf("HealthPort = %d, want 9090", cfg.HealthPort)
	}
}

func TestPasswordFromSecretFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "pihole_password")
	if err := os.WriteFile(secretPath, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TAILHOLE_PIHOLE_PASSWORD_FILE", secretPath)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PiholePassword != "hunter2" {
		t.Errorf("PiholePassword = %q, want hunter2", cfg.PiholePassword)
	}
}

func TestValidationErrorsAggregated(t *testing.T) {
	t.Setenv("TAILHOLE_LOG_LEVEL", "loud")
	t.Setenv("TAILHOLE_LOG_FORMAT", "xml")
	t.Setenv("TAILHOLE_BLOCKING_MODE", "SINKHOLE")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation errors")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
	for _, want := range []string{"log_level", "log_format", "blocking_mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestInvalidDurations(t *testing.T) {
	t.Setenv("TAILHOLE_CONVERGE_INTERVAL", "sometimes")
	t.Setenv("TAILHOLE_STOP_TIMEOUT", "500ms")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "TAILHOLE_CONVERGE_INTERVAL") {
		t.Errorf("error does not mention converge interval: %v", err)
	}
	if !strings.Contains(err.Error(), "TAILHOLE_STOP_TIMEOUT") {
		t.Errorf("error does not mention stop timeout: %v", err)
	}
}

func TestDeployValidation(t *testing.T) {
	t.Setenv("TAILHOLE_DEPLOY_HOST", "pi.example.net")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation errors for incomplete deploy config")
	}
	if !strings.Contains(err.Error(), "deploy.user") {
		t.Errorf("error does not mention deploy.user: %v", err)
	}

	t.Setenv("TAILHOLE_DEPLOY_USER", "pi")
	t.Setenv("TAILHOLE_DEPLOY_KEY_FILE", "/home/pi/.ssh/id_ed25519")
	t.Setenv("TAILHOLE_DEPLOY_KNOWN_HOSTS", "/home/pi/.ssh/known_hosts")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Deploy.Enabled() {
		t.Error("deploy should be enabled")
	}
	if cfg.Deploy.Port != 22 {
		t.Errorf("Deploy.Port = %d, want 22", cfg.Deploy.Port)
	}
	if cfg.Deploy.Path != DefaultDeployPath {
		t.Errorf("Deploy.Path = %q, want %q", cfg.Deploy.Path, DefaultDeployPath)
	}
	if cfg.Deploy.KnownHosts != "/home/pi/.ssh/known_hosts" {
		t.Errorf("Deploy.KnownHosts = %q", cfg.Deploy.KnownHosts)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.in, tt.def); got != tt.want {
			t.Errorf("parseBool(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}
