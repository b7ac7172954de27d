package blobstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// FileBackend keeps blobs in a directory, named by their blake3 hash.
type FileBackend struct {
	dir string // dir holds one file per blob
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir:\n%w", err)
	}

	return &FileBackend{dir: dir}, nil
}

// Scheme returns "file".
func (f *FileBackend) Scheme() string { return "file" }

// Put writes data once under its content hash. The URI is file://<hex>.
func (f *FileBackend) Put(_ context.Context, data []byte) (string, error) {
	sum := blake3.Sum256(data)
	name := hex.EncodeToString(sum[:])
	path := filepath.Join(f.dir, name)

	if _, err := os.Stat(path); err == nil {
		return "file://" + name, nil
	}

	tmp, err := os.CreateTemp(f.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob:\n%w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob:\n%w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob:\n%w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit blob:\n%w", err)
	}

	return "file://" + name, nil
}

// Get reads the blob named by uri. Only bare names inside the directory resolve.
func (f *FileBackend) Get(_ context.Context, uri string) ([]byte, error) {
	name := strings.TrimPrefix(uri, "file://")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid file blob name %q", name)
	}

	file, err := os.Open(filepath.Join(f.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open blob:\n%w", err)
	}
	defer file.Close()

	return readLimited(file)
}
