package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/zeebo/blake3"
)

const (
	// FileMode is applied to every written output; other containers read them.
	FileMode fs.FileMode = 0o644
	dirMode  fs.FileMode = 0o755
)

// ErrEmptyName is returned when an output is written without a file name.
var ErrEmptyName = errors.New("output file name must not be empty")

// Store persists rendered outputs.
type Store interface {
	Write(name string, data []byte) (string, error)
}

// DirStore writes outputs beneath a root directory. Names are resolved with
// securejoin so that neither ".." nor symlinks can escape the root.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at dir. The directory is created on
// first write.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

// Root returns the store's directory.
func (s *DirStore) Root() string {
	return s.root
}

// Path resolves name inside the store root.
func (s *DirStore) Path(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	path, err := securejoin.SecureJoin(s.root, name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return path, nil
}

// Write atomically replaces name with data and returns the path written.
func (s *DirStore) Write(name string, data []byte) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(path, data, FileMode); err != nil {
		return "", err
	}
	return path, nil
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it into place, so readers see either the old or the new content.
// Parent directories are created as needed.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath, err := writeTemp(dir, filepath.Base(path), data, perm)
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", path, err)
	}

	syncDir(dir)
	return nil
}

// CreateExclusive writes data to path only if path does not exist yet. The
// file appears complete or not at all; when another process wins the race
// its file is kept and created is false.
func CreateExclusive(path string, data []byte, perm fs.FileMode) (created bool, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath, err := writeTemp(dir, filepath.Base(path), data, perm)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link into %s: %w", path, err)
	}

	syncDir(dir)
	return true, nil
}

func writeTemp(dir, base string, data []byte, perm fs.FileMode) (string, error) {
	file, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", base, err)
	}
	tmpPath := file.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", fmt.Errorf("write temp file for %s: %w", base, err)
	}
	if err := file.Chmod(perm); err != nil {
		file.Close()
		return "", fmt.Errorf("chmod temp file for %s: %w", base, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return "", fmt.Errorf("sync temp file for %s: %w", base, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close temp file for %s: %w", base, err)
	}

	success = true
	return tmpPath, nil
}

// syncDir makes a rename durable across power loss. Errors are ignored; the
// rename itself already succeeded.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
