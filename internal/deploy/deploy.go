// Package deploy pushes rendered descriptors (stack file, access policy,
// serve config, Pi-hole settings, secrets) to a remote host over SFTP and
// optionally runs a reload command there.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/WillMorrison/tailhole/internal/config"
	"github.com/WillMorrison/tailhole/internal/secrets"
	"github.com/WillMorrison/tailhole/pkg/sshutil"
)

// File permission for non-secret descriptors.
const descriptorMode = os.FileMode(0644)

// Bundle collects the files to push, keyed by path relative to the remote
// deploy directory.
type Bundle struct {
	files map[string]file
}

type file struct {
	data   []byte
	secret bool
}

// NewBundle creates an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{files: make(map[string]file)}
}

// Add stages a descriptor file.
func (b *Bundle) Add(relPath string, data []byte) {
	b.files[relPath] = file{data: data}
}

// AddSecret stages a file that must land with owner-only permissions.
func (b *Bundle) AddSecret(relPath string, data []byte) {
	b.files[relPath] = file{data: data, secret: true}
}

// Len returns the number of staged files.
func (b *Bundle) Len() int {
	return len(b.files)
}

// Paths returns the staged relative paths in sorted order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RemoteFS is the subset of SFTP operations Push needs. Satisfied by
// *sshutil.SFTPFileSystem.
type RemoteFS interface {
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
}

// Runner executes a command on the remote host. Satisfied by
// *sshutil.CommandRunner.
type Runner interface {
	Run(ctx context.Context, command string) error
}

// Deployer pushes bundles to a configured remote host.
type Deployer struct {
	cfg    config.DeployConfig
	fs     RemoteFS
	runner Runner
	logger *slog.Logger

	client *sshutil.Client
}

// Option is a functional option for configuring the Deployer.
type Option func(*Deployer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRemote replaces the SFTP filesystem and command runner, for tests.
func WithRemote(fs RemoteFS, runner Runner) Option {
	return func(d *Deployer) {
		d.fs = fs
		d.runner = runner
	}
}

// New creates a Deployer for the given target.
func New(cfg config.DeployConfig, opts ...Option) (*Deployer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("no deploy host configured")
	}

	d := &Deployer{
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// sshConfig maps the deploy target onto an SSH client configuration.
func (d *Deployer) sshConfig() *sshutil.Config {
	return &sshutil.Config{
		Host:           d.cfg.Host,
		Port:           d.cfg.Port,
		User:           d.cfg.User,
		KeyFile:        d.cfg.KeyFile,
		Password:       d.cfg.Password,
		KnownHostsFile: d.cfg.KnownHosts,
	}
}

// Connect opens the SSH and SFTP sessions. Not needed when WithRemote
// supplied a fake.
func (d *Deployer) Connect(ctx context.Context) error {
	if d.fs != nil {
		return nil
	}

	sshCfg := d.sshConfig()

	client, err := sshutil.NewClient(sshCfg, sshutil.WithLogger(d.logger))
	if err != nil {
		return fmt.Errorf("creating SSH client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", sshCfg.Address(), err)
	}

	fs := sshutil.NewSFTPFileSystem(client, sshutil.WithSFTPLogger(d.logger))
	if err := fs.Connect(); err != nil {
		_ = client.Close()
		return fmt.Errorf("opening SFTP session: %w", err)
	}

	d.client = client
	d.fs = fs
	d.runner = sshutil.NewCommandRunner(client, sshutil.WithCommandLogger(d.logger))
	return nil
}

// Close tears down the SSH connection.
func (d *Deployer) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// Push writes the bundle under the configured remote path and, if a reload
// command is configured, runs it after all files have landed.
func (d *Deployer) Push(ctx context.Context, bundle *Bundle) error {
	if bundle.Len() == 0 {
		return fmt.Errorf("bundle is empty")
	}
	if d.fs == nil {
		return fmt.Errorf("deployer is not connected")
	}

	if err := d.fs.MkdirAll(d.cfg.Path, 0o755); err != nil {
		return fmt.Errorf("creating deploy directory %s: %w", d.cfg.Path, err)
	}

	for _, relPath := range bundle.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := bundle.files[relPath]
		mode := descriptorMode
		if f.secret {
			mode = secrets.SecretFileMode
		}

		target := path.Join(d.cfg.Path, relPath)
		if err := d.fs.WriteFile(target, f.data, mode); err != nil {
			return fmt.Errorf("pushing %s: %w", relPath, err)
		}

		d.logger.Info("pushed file",
			slog.String("path", target),
			slog.Int("bytes", len(f.data)),
			slog.Bool("secret", f.secret),
		)
	}

	if d.cfg.ReloadCmd != "" {
		d.logger.Info("running reload command", slog.String("command", d.cfg.ReloadCmd))
		if err := d.runner.Run(ctx, d.cfg.ReloadCmd); err != nil {
			return fmt.Errorf("reload command: %w", err)
		}
	}

	return nil
}
