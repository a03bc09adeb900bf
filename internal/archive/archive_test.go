package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/mohammad-safakhou/svat/config"
)

func TestMemoryVault(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()

	if err := v.Put(ctx, "abc.pdf", strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := v.Put(ctx, "abc.pdf", strings.NewReader("other"), 5); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	var buf bytes.Buffer
	if err := v.Get(ctx, "abc.pdf", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "hello" {
		t.Errorf("Get() = %q, want first write kept", buf.String())
	}
	if err := v.Put(ctx, "bad", strings.NewReader("abc"), 10); err == nil {
		t.Errorf("expected size mismatch error")
	}
	if err := v.Get(ctx, "missing", &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemVault(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "archive")
	v, err := NewFileSystemVault(root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	t.Run("store and read back", func(t *testing.T) {
		if err := v.Put(ctx, "fp1.pdf", strings.NewReader("report"), 6); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		ok, err := v.Has(ctx, "fp1.pdf")
		if err != nil || !ok {
			t.Fatalf("Has() = %v, %v", ok, err)
		}
		var buf bytes.Buffer
		if err := v.Get(ctx, "fp1.pdf", &buf); err != nil || buf.String() != "report" {
			t.Fatalf("Get() = %q, %v", buf.String(), err)
		}
	})

	t.Run("size mismatch leaves nothing behind", func(t *testing.T) {
		if err := v.Put(ctx, "fp2.pdf", strings.NewReader("abc"), 99); err == nil {
			t.Fatalf("expected size mismatch")
		}
		entries, _ := os.ReadDir(root)
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") || e.Name() == "fp2.pdf" {
				t.Errorf("unexpected file %s", e.Name())
			}
		}
	})

	t.Run("rejects path keys", func(t *testing.T) {
		if err := v.Put(ctx, "../escape", strings.NewReader("x"), 1); err == nil {
			t.Fatalf("expected invalid key error")
		}
	})
}

func TestStoreFileSkipsExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "r.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := NewMemoryVault()
	wrote, err := StoreFile(ctx, v, "fp.pdf", path)
	if err != nil || !wrote {
		t.Fatalf("StoreFile() = %v, %v", wrote, err)
	}
	wrote, err = StoreFile(ctx, v, "fp.pdf", path)
	if err != nil || wrote {
		t.Fatalf("second StoreFile() = %v, %v", wrote, err)
	}
	if v.Len() != 1 {
		t.Errorf("Len() = %d, want 1", v.Len())
	}
}

func TestEncryptedVaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	inner := NewMemoryVault()
	v, err := NewEncryptedVault(inner, id.Recipient().String())
	if err != nil {
		t.Fatalf("NewEncryptedVault() error = %v", err)
	}
	if err := v.Put(ctx, "k", strings.NewReader("secret report"), 13); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	var sealed bytes.Buffer
	if err := v.Get(ctx, "k", &sealed); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Contains(sealed.String(), "secret report") {
		t.Fatalf("ciphertext contains plaintext")
	}
	r, err := age.Decrypt(&sealed, id)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	var plain bytes.Buffer
	if _, err := plain.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if plain.String() != "secret report" {
		t.Errorf("plaintext = %q", plain.String())
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	v, err := NewFromConfig(ctx, config.ArchiveConfig{Type: "none"})
	if err != nil || v != nil {
		t.Fatalf("none: %v, %v", v, err)
	}
	v, err = NewFromConfig(ctx, config.ArchiveConfig{Type: "filesystem", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	if _, ok := v.(*FileSystemVault); !ok {
		t.Errorf("expected *FileSystemVault, got %T", v)
	}
	if _, err := NewFromConfig(ctx, config.ArchiveConfig{Type: "tape"}); err == nil {
		t.Errorf("expected unknown type error")
	}
	if _, err := NewFromConfig(ctx, config.ArchiveConfig{Type: "memory", AgeRecipient: "not-a-key"}); err == nil {
		t.Errorf("expected bad recipient error")
	}
}
