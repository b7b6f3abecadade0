package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/you/carebook/domain"
)

// FileCache implements domain.CredentialCache with files in a private
// directory. It is the CLI's persistence.
type FileCache struct {
	dir    string
	logger *slog.Logger
}

// NewFileCache creates the cache directory if needed. An empty dir means
// ~/.carebook.
func NewFileCache(dir string, logger *slog.Logger) (*FileCache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".carebook")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir, logger: logger}, nil
}

func (c *FileCache) identityPath() string { return filepath.Join(c.dir, IdentityKey+".json") }
func (c *FileCache) tokenPath() string    { return filepath.Join(c.dir, TokenKey) }

// Read implements domain.SessionCache. Corrupt files are removed.
func (c *FileCache) Read(ctx context.Context) *domain.Identity {
	data, err := os.ReadFile(c.identityPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WarnContext(ctx, "session cache read failed", "path", c.identityPath(), "error", err)
		}
		return nil
	}

	identity, err := decodeIdentity(data)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping corrupt session cache file", "path", c.identityPath(), "error", err)
		if err := removeIfExists(c.identityPath()); err != nil {
			c.logger.WarnContext(ctx, "failed to remove corrupt file", "path", c.identityPath(), "error", err)
		}
		return nil
	}
	return identity
}

// Write implements domain.SessionCache
func (c *FileCache) Write(_ context.Context, identity domain.Identity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	return writeFileAtomic(c.identityPath(), data)
}

// Clear implements domain.SessionCache
func (c *FileCache) Clear(_ context.Context) error {
	return removeIfExists(c.identityPath())
}

// ReadToken implements domain.TokenStore
func (c *FileCache) ReadToken(_ context.Context) (string, bool) {
	data, err := os.ReadFile(c.tokenPath())
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}

// WriteToken implements domain.TokenStore
func (c *FileCache) WriteToken(_ context.Context, token string) error {
	return writeFileAtomic(c.tokenPath(), []byte(token))
}

// ClearToken implements domain.TokenStore
func (c *FileCache) ClearToken(_ context.Context) error {
	return removeIfExists(c.tokenPath())
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var _ domain.CredentialCache = (*FileCache)(nil)
