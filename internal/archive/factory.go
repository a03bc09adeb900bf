package archive

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/svat/config"
)

// NewFromConfig builds the configured vault, wrapped with age encryption
// when a recipient is set. It returns nil for type "none".
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Vault, error) {
	var v Vault
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		v = NewMemoryVault()
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem archive requires archive.dir")
		}
		fs, err := NewFileSystemVault(cfg.Dir)
		if err != nil {
			return nil, err
		}
		v = fs
	case "s3":
		s, err := NewS3Vault(ctx, S3Options{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Prefix:    cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		v = s
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
	if cfg.AgeRecipient != "" {
		enc, err := NewEncryptedVault(v, cfg.AgeRecipient)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	return v, nil
}
