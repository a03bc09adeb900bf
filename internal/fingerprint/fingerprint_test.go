package fingerprint

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
)

func TestKnownDigest(t *testing.T) {
	got, err := Reader(bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("digest mismatch: got %s want %s", got, want)
	}
}

func TestChunkingDoesNotChangeDigest(t *testing.T) {
	data := bytes.Repeat([]byte("vulnerability report "), 1500) // spans several blocks
	whole, err := Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("whole: %v", err)
	}
	oneByte, err := Reader(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("one byte: %v", err)
	}
	half, err := Reader(iotest.HalfReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("half: %v", err)
	}
	if whole != oneByte || whole != half {
		t.Fatalf("digests differ: %s %s %s", whole, oneByte, half)
	}
}

func TestFileMatchesReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	data := []byte("%PDF-1.4 fake")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fromFile, err := File(path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	fromReader, _ := Reader(bytes.NewReader(data))
	if fromFile != fromReader {
		t.Fatalf("file digest %s != reader digest %s", fromFile, fromReader)
	}
	if len(fromFile) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fromFile))
	}
}

func TestIOErrorsPropagate(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := Reader(io.MultiReader(bytes.NewReader([]byte("x")), iotest.ErrReader(boom)))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped io error, got %v", err)
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
