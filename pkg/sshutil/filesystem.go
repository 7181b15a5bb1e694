package sshutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
)

// SFTPFileSystem performs file operations on the remote host over SFTP.
type SFTPFileSystem struct {
	client *Client
	logger *slog.Logger

	mu         sync.RWMutex
	sftpClient *sftp.Client
}

// SFTPOption is a functional option for configuring the SFTPFileSystem.
type SFTPOption func(*SFTPFileSystem)

// WithSFTPLogger sets a custom logger for SFTP operations.
func WithSFTPLogger(logger *slog.Logger) SFTPOption {
	return func(fs *SFTPFileSystem) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// NewSFTPFileSystem creates an SFTP-based filesystem. The underlying SSH
// client must be connected before use.
func NewSFTPFileSystem(client *Client, opts ...SFTPOption) *SFTPFileSystem {
	fs := &SFTPFileSystem{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(fs)
	}

	return fs
}

// Connect establishes the SFTP session over the SSH connection.
func (fs *SFTPFileSystem) Connect() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient != nil {
		return nil
	}

	sshConn, err := fs.client.GetConnection()
	if err != nil {
		return fmt.Errorf("getting SSH connection: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		return fmt.Errorf("creating SFTP client: %w", err)
	}

	fs.sftpClient = sftpClient
	fs.logger.Debug("SFTP session established")
	return nil
}

// Close closes the SFTP session. It does not close the underlying SSH
// connection.
func (fs *SFTPFileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient == nil {
		return nil
	}

	err := fs.sftpClient.Close()
	fs.sftpClient = nil
	return err
}

func (fs *SFTPFileSystem) getSFTP() (*sftp.Client, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.sftpClient == nil {
		return nil, ErrNotConnected
	}
	return fs.sftpClient, nil
}

// ReadFile reads the contents of a remote file.
func (fs *SFTPFileSystem) ReadFile(remotePath string) ([]byte, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	file, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", remotePath, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", remotePath, err)
	}
	return data, nil
}

// WriteFile writes data to a remote file atomically: the data goes to a
// temporary file in the target directory which is then renamed into place,
// so a reader never observes a half-written descriptor. Parent directories
// are created as needed.
func (fs *SFTPFileSystem) WriteFile(remotePath string, data []byte, perm os.FileMode) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}

	dir := path.Dir(remotePath)
	if dir != "." && dir != "/" {
		if err := fs.mkdirAll(sftpClient, dir, 0o755); err != nil {
			return fmt.Errorf("creating parent directory %s: %w", dir, err)
		}
	}

	tmpPath := remotePath + ".tmp"
	file, err := sftpClient.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("opening %s for write: %w", tmpPath, err)
	}

	n, err := file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = sftpClient.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if n != len(data) {
		_ = sftpClient.Remove(tmpPath)
		return fmt.Errorf("short write to %s: wrote %d of %d bytes", tmpPath, n, len(data))
	}

	if err := sftpClient.Chmod(tmpPath, perm); err != nil {
		fs.logger.Warn("failed to set file permissions",
			slog.String("path", tmpPath),
			slog.String("error", err.Error()),
		)
	}

	// SFTP rename fails if the target exists on some servers; remove first.
	_ = sftpClient.Remove(remotePath)
	if err := sftpClient.Rename(tmpPath, remotePath); err != nil {
		_ = sftpClient.Remove(tmpPath)
		return fmt.Errorf("renaming %s into place: %w", tmpPath, err)
	}

	fs.logger.Debug("file written",
		slog.String("path", remotePath),
		slog.Int("bytes", n),
	)
	return nil
}

// Stat returns file info for a remote path.
func (fs *SFTPFileSystem) Stat(remotePath string) (os.FileInfo, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	return info, nil
}

// MkdirAll creates a remote directory and all parents.
func (fs *SFTPFileSystem) MkdirAll(remotePath string, perm os.FileMode) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}
	return fs.mkdirAll(sftpClient, remotePath, perm)
}

func (fs *SFTPFileSystem) mkdirAll(sftpClient *sftp.Client, remotePath string, perm os.FileMode) error {
	if err := sftpClient.Mkdir(remotePath); err == nil {
		if chmodErr := sftpClient.Chmod(remotePath, perm); chmodErr != nil {
			fs.logger.Warn("failed to set directory permissions",
				slog.String("path", remotePath),
				slog.String("error", chmodErr.Error()),
			)
		}
		return nil
	}

	if info, statErr := sftpClient.Stat(remotePath); statErr == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("path exists but is not a directory: %s", remotePath)
	}

	parent := path.Dir(remotePath)
	if parent != remotePath && parent != "/" && parent != "." {
		if err := fs.mkdirAll(sftpClient, parent, perm); err != nil {
			return err
		}
	}

	if err := sftpClient.Mkdir(remotePath); err != nil {
		if info, statErr := sftpClient.Stat(remotePath); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("creating directory %s: %w", remotePath, err)
	}
	return nil
}

// Remove removes a remote file or empty directory.
func (fs *SFTPFileSystem) Remove(remotePath string) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}
	if err := sftpClient.Remove(remotePath); err != nil {
		return fmt.Errorf("removing %s: %w", remotePath, err)
	}
	return nil
}
