// Package secrets handles file-based secret values: authentication keys and
// passwords stored one-per-file with restrictive permissions, consumed by
// containers at start and by tailhole itself at load time.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrWorldReadable is returned when a secret file is readable by group or
// other.
var ErrWorldReadable = errors.New("secret file is readable by group or other")

// SecretFileMode is the permission mode used when writing secret files.
const SecretFileMode = os.FileMode(0600)

// Read returns the contents of a secret file with surrounding whitespace
// trimmed. Files readable beyond their owner are rejected so a leaked key
// is caught at load time rather than after it has been in use.
func Read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("secret %s: is a directory", path)
	}
	if info.Mode().Perm()&0077 != 0 {
		return "", fmt.Errorf("secret %s (mode %04o): %w", path, info.Mode().Perm(), ErrWorldReadable)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}

	value := strings.TrimSpace(string(content))
	if value == "" {
		return "", fmt.Errorf("secret %s: file is empty", path)
	}
	return value, nil
}

// Write stores a secret value at path with owner-only permissions, creating
// parent directories as needed. An existing file is replaced atomically via
// a temp file in the same directory.
func Write(path, value string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("secret %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".secret-*")
	if err != nil {
		return fmt.Errorf("secret %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(SecretFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("secret %s: %w", path, err)
	}
	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("secret %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("secret %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("secret %s: %w", path, err)
	}
	return nil
}

// FromEnv retrieves a value supporting the _FILE suffix convention. Given a
// key like "TAILHOLE_PIHOLE_PASSWORD", it checks the _FILE variant first
// (reading the referenced file) and falls back to the direct value. This
// allows local development with direct values while production uses
// file-based secrets.
func FromEnv(key string) (string, error) {
	if path := os.Getenv(key + "_FILE"); path != "" {
		return Read(path)
	}
	return os.Getenv(key), nil
}
