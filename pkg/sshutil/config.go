// Package sshutil provides the SSH/SFTP plumbing used to push rendered
// descriptors to a remote host and run reload commands there.
package sshutil

import (
	"fmt"
	"strings"
	"time"
)

// Default SSH client configuration values.
const (
	DefaultPort              = 22
	DefaultTimeout           = 30 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the SSH server hostname or IP address (required).
	Host string

	// Port is the SSH server port (default: 22).
	Port int

	// User is the SSH username (required).
	User string

	// KeyFile is the path to the SSH private key file. Either KeyFile or
	// Password must be provided.
	KeyFile string

	// KeyPassphrase is the passphrase for an encrypted key (optional).
	KeyPassphrase string

	// Password enables password authentication. Key-based authentication is
	// preferred.
	Password string

	// Timeout is the connection timeout (default: 30s).
	Timeout time.Duration

	// KeepaliveInterval is the interval for keepalive messages. Zero means
	// the default; negative disables keepalives.
	KeepaliveInterval time.Duration

	// KnownHostsFile verifies the server's host key against an OpenSSH
	// known_hosts file. If empty, host keys are NOT verified.
	KnownHostsFile string
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Host == "" {
		errs = append(errs, "host is required")
	}
	if c.User == "" {
		errs = append(errs, "user is required")
	}
	if c.KeyFile == "" && c.Password == "" {
		errs = append(errs, "either key_file or password is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("ssh config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// GetTimeout returns the configured timeout or the default.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// GetKeepaliveInterval returns the effective keepalive interval: the
// configured value, the default when unset, or zero when disabled.
func (c *Config) GetKeepaliveInterval() time.Duration {
	switch {
	case c.KeepaliveInterval > 0:
		return c.KeepaliveInterval
	case c.KeepaliveInterval < 0:
		return 0
	default:
		return DefaultKeepaliveInterval
	}
}
