// Package archive keeps the original bytes of uploaded reports, keyed by
// content fingerprint.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned by Get for a key that was never stored.
var ErrNotFound = errors.New("archive: object not found")

// Vault stores immutable objects. Put is idempotent per key. A negative
// size means the length is not known up front.
type Vault interface {
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string, w io.Writer) error
}

// StoreFile archives the file at path under key unless it is already
// present. It reports whether anything was written.
func StoreFile(ctx context.Context, v Vault, key, path string) (bool, error) {
	ok, err := v.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := v.Put(ctx, key, f, info.Size()); err != nil {
		return false, err
	}
	return true, nil
}

func checkSize(expected, written int64) error {
	if expected >= 0 && written != expected {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, written)
	}
	return nil
}
