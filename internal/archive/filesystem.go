package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemVault stores each object as a file named by its key under root.
type FileSystemVault struct {
	root string
}

func NewFileSystemVault(root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileSystemVault{root: root}, nil
}

func (v *FileSystemVault) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(v.root, key), nil
}

func (v *FileSystemVault) Has(_ context.Context, key string) (bool, error) {
	p, err := v.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put writes through a temp file and renames it into place. Existing keys
// are left untouched.
func (v *FileSystemVault) Put(_ context.Context, key string, r io.Reader, size int64) error {
	dest, err := v.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	tmp, err := os.CreateTemp(v.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := checkSize(size, written); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	ok = true
	return nil
}

func (v *FileSystemVault) Get(_ context.Context, key string, w io.Writer) error {
	p, err := v.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("open object: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
