// Package config handles loading and validation of tailhole configuration
// from an optional YAML file and TAILHOLE_* environment variables.
// Environment variables always take precedence over file values.
package config

import "time"

// Configuration defaults.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultDockerHost        = "unix:///var/run/docker.sock"
	DefaultStackFile         = "tailhole.yaml"
	DefaultPolicyFile        = "policy.hujson"
	DefaultPiholeURL         = "http://127.0.0.1:80"
	DefaultResolver          = "127.0.0.1:53"
	DefaultBlockingMode      = "NULL"
	DefaultStopTimeout       = 10 * time.Second
	DefaultConvergeInterval  = 60 * time.Second
	DefaultHealthPort        = 8080
	DefaultDeployPath        = "/opt/tailhole"
	DefaultDeploySSHPort     = 22
)

// Config holds the complete runtime configuration.
type Config struct {
	// Logging
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, text

	// Docker connection
	DockerHost string `yaml:"docker_host"`

	// Descriptor paths
	StackFile  string `yaml:"stack_file"`
	PolicyFile string `yaml:"policy_file"`

	// Behavior
	DryRun           bool          `yaml:"dry_run"`
	Pull             bool          `yaml:"pull"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	ConvergeInterval time.Duration `yaml:"converge_interval"`
	HealthPort       int           `yaml:"health_port"`

	// Pi-hole admin API
	PiholeURL      string `yaml:"pihole_url"`
	PiholePassword string `yaml:"-"` // env or Docker secret only, never from file

	// DNS verification
	Resolver     string `yaml:"resolver"`
	BlockingMode string `yaml:"blocking_mode"` // NULL, NXDOMAIN

	// Remote deployment over SSH
	Deploy DeployConfig `yaml:"deploy"`
}

// DeployConfig configures pushing rendered descriptors to a remote host.
type DeployConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	KeyFile   string `yaml:"key_file"`
	Path      string `yaml:"path"`
	ReloadCmd string `yaml:"reload_cmd"`

	// KnownHosts is the known_hosts file used to verify the target's
	// host key. Empty disables verification (with a warning).
	KnownHosts string `yaml:"known_hosts"`

	// Password is env/secret only.
	Password string `yaml:"-"`
}

// Enabled reports whether a deploy target is configured.
func (d *DeployConfig) Enabled() bool {
	return d.Host != ""
}

func defaults() *Config {
	return &Config{
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		DockerHost:       DefaultDockerHost,
		StackFile:        DefaultStackFile,
		PolicyFile:       DefaultPolicyFile,
		StopTimeout:      DefaultStopTimeout,
		ConvergeInterval: DefaultConvergeInterval,
		HealthPort:       DefaultHealthPort,
		PiholeURL:        DefaultPiholeURL,
		Resolver:         DefaultResolver,
		BlockingMode:     DefaultBlockingMode,
		Deploy: DeployConfig{
			Port: DefaultDeploySSHPort,
			Path: DefaultDeployPath,
		},
	}
}
