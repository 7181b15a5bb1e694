package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CommandResult holds the result of a remote command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner executes commands on the remote host over SSH.
type CommandRunner struct {
	client *Client
	logger *slog.Logger
}

// CommandRunnerOption is a functional option for configuring the CommandRunner.
type CommandRunnerOption func(*CommandRunner)

// WithCommandLogger sets a custom logger for command execution.
func WithCommandLogger(logger *slog.Logger) CommandRunnerOption {
	return func(cr *CommandRunner) {
		if logger != nil {
			cr.logger = logger
		}
	}
}

// NewCommandRunner creates an SSH-based command runner. The underlying SSH
// client must be connected before use.
func NewCommandRunner(client *Client, opts ...CommandRunnerOption) *CommandRunner {
	cr := &CommandRunner{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(cr)
	}

	return cr
}

// Run executes a command and returns an error if it exits non-zero.
func (cr *CommandRunner) Run(ctx context.Context, command string) error {
	result, err := cr.RunWithOutput(ctx, command)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		errMsg := strings.TrimSpace(result.Stderr)
		if errMsg == "" {
			errMsg = strings.TrimSpace(result.Stdout)
		}
		return fmt.Errorf("command failed with exit code %d: %s", result.ExitCode, errMsg)
	}
	return nil
}

// RunWithOutput executes a command and returns the full result. The exit
// code is reported in the result rather than as an error.
func (cr *CommandRunner) RunWithOutput(ctx context.Context, command string) (*CommandResult, error) {
	sshConn, err := cr.client.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("getting SSH connection: %w", err)
	}

	cr.logger.Debug("executing command", slog.String("command", command))

	session, err := sshConn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			result.ExitCode = extractExitCode(err)
		}

		cr.logger.Debug("command completed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
		)
		return result, nil
	}
}

// extractExitCode attempts to extract the exit code from an SSH error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	errStr := err.Error()
	var code int
	if _, scanErr := fmt.Sscanf(errStr, "Process exited with status %d", &code); scanErr == nil {
		return code
	}
	if _, scanErr := fmt.Sscanf(errStr, "exit status %d", &code); scanErr == nil {
		return code
	}
	return 1
}
