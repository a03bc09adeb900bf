// Package fingerprint computes content hashes used as the deduplication key
// for ingested documents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// BlockSize is the read granularity; files are never loaded whole.
const BlockSize = 4096

// Reader hashes r in BlockSize blocks and returns the hex encoded SHA-256.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, onlyReader{r}, buf); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

// onlyReader hides WriterTo so CopyBuffer honours the block size.
type onlyReader struct{ io.Reader }
