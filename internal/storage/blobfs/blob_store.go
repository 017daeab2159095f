// Package blobfs implements the binary side-channel blob store over the
// filesystem. Each checkpoint's binary payload lives in a single file named
// after the (sanitized) checkpoint id. Writes go to a temp file first and
// are renamed into place, so a crash mid-write never leaves a partial blob
// observable under the final key.
package blobfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BrianMills2718/kgas/internal/storage"
)

const blobExt = ".blob"

// BlobStore implements storage.BlobStore with one file per checkpoint key.
type BlobStore struct {
	dir string
}

// NewBlobStore creates a blob store rooted at {dataPath}/blobs/.
func NewBlobStore(dataPath string) (*BlobStore, error) {
	dir := filepath.Join(dataPath, "blobs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobfs: mkdir %s: %w", dir, err)
	}
	return &BlobStore{dir: dir}, nil
}

// PutBlob writes a blob under the given checkpoint id atomically.
func (b *BlobStore) PutBlob(key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("%w: blob key is required", storage.ErrInvalidInput)
	}

	final := b.path(key)
	tmp, err := os.CreateTemp(b.dir, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("blobfs: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobfs: write blob %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobfs: sync blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobfs: close blob %s: %w", key, err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobfs: rename blob %s: %w", key, err)
	}
	return nil
}

// GetBlob reads the blob for a checkpoint id.
func (b *BlobStore) GetBlob(key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobfs: read blob %s: %w", key, err)
	}
	return data, nil
}

// DeleteBlob removes the blob for a checkpoint id. Missing blobs are not
// an error: retention sweeps may race with each other.
func (b *BlobStore) DeleteBlob(key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobfs: delete blob %s: %w", key, err)
	}
	return nil
}

// BlobKeys lists all stored checkpoint ids, skipping temp files.
func (b *BlobStore) BlobKeys() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("blobfs: read dir: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobExt) {
			continue
		}
		keys = append(keys, unsanitizeKey(strings.TrimSuffix(entry.Name(), blobExt)))
	}
	return keys, nil
}

func (b *BlobStore) path(key string) string {
	return filepath.Join(b.dir, sanitizeKey(key)+blobExt)
}

// sanitizeKey replaces characters unsafe for filenames. Checkpoint ids use
// the chk:uuid format, so only ':' and '/' need mapping.
func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(key)
}

// unsanitizeKey restores the chk: prefix mangled by sanitizeKey. UUID
// bodies never contain '_', so the first separator is unambiguous.
func unsanitizeKey(name string) string {
	if i := strings.Index(name, "_"); i >= 0 {
		return name[:i] + ":" + name[i+1:]
	}
	return name
}
