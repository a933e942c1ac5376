package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/giantswarm/authcache/security"
)

// ExternalCache is the persisted-storage collaborator: an opaque blob the
// store loads once and rewrites after every mutation. Implementations own the
// medium (file, keychain, remote vault) and any at-rest protection.
type ExternalCache interface {
	// Read returns the persisted blob, or (nil, nil) when nothing has been
	// persisted yet.
	Read() ([]byte, error)

	// Write replaces the persisted blob.
	Write(data []byte) error
}

// FileCache persists the serialized contract to a single file, optionally
// encrypted at rest with AES-256-GCM. Refresh tokens are long-lived secrets;
// production deployments should always pass an enabled encryptor.
type FileCache struct {
	path      string
	encryptor *security.Encryptor
}

var _ ExternalCache = (*FileCache)(nil)

// NewFileCache creates a file-backed external cache. A nil encryptor stores
// the blob in plaintext.
func NewFileCache(path string, encryptor *security.Encryptor) (*FileCache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path cannot be empty")
	}
	if encryptor == nil {
		var err error
		encryptor, err = security.NewEncryptor(nil)
		if err != nil {
			return nil, err
		}
	}
	return &FileCache{path: path, encryptor: encryptor}, nil
}

// Read loads and, if configured, decrypts the cache file. A missing file is
// not an error: it means nothing has been persisted yet.
func (f *FileCache) Read() ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	data, err := f.encryptor.Decrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt cache file: %w", err)
	}
	return data, nil
}

// Write encrypts (if configured) and atomically replaces the cache file.
// The file is written 0600: it holds credentials even when encrypted.
func (f *FileCache) Write(data []byte) error {
	encoded, err := f.encryptor.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt cache file: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".authcache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict cache file mode: %w", err)
	}
	if _, err := tmp.Write([]byte(encoded)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
