package archive

import (
	"context"
	"fmt"
	"io"

	"filippo.io/age"
)

// EncryptedVault age-encrypts objects before handing them to Inner. Get
// returns ciphertext; decryption needs the matching identity.
type EncryptedVault struct {
	Inner     Vault
	Recipient age.Recipient
}

func NewEncryptedVault(inner Vault, recipient string) (*EncryptedVault, error) {
	r, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("parse age recipient: %w", err)
	}
	return &EncryptedVault{Inner: inner, Recipient: r}, nil
}

func (e *EncryptedVault) Has(ctx context.Context, key string) (bool, error) {
	return e.Inner.Has(ctx, key)
}

// Put streams plaintext through age into the inner vault. The ciphertext
// length differs from size, so the inner vault is told it is unknown.
func (e *EncryptedVault) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()
	go func() {
		w, err := age.Encrypt(pw, e.Recipient)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("create encrypted writer: %w", err))
			return
		}
		n, err := io.Copy(w, r)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("encrypt data: %w", err))
			return
		}
		if err := checkSize(size, n); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Close())
	}()
	err := e.Inner.Put(ctx, key, pr, -1)
	pr.CloseWithError(err)
	return err
}

func (e *EncryptedVault) Get(ctx context.Context, key string, w io.Writer) error {
	return e.Inner.Get(ctx, key, w)
}
