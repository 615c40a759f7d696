package storage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/soundguard-ai/soundguard/internal/config"
)

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Blob, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
	case "azure":
		return NewAzure(AzureOptions{
			Account:   cfg.Azure.Account,
			Key:       cfg.Azure.Key,
			Container: cfg.Azure.Container,
			Prefix:    cfg.Azure.Prefix,
		})
	case "ftp":
		return NewFTP(remoteOptions(cfg.FTP))
	case "sftp":
		return NewSFTP(remoteOptions(cfg.SFTP))
	default:
		return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func remoteOptions(c config.RemoteDirConfig) RemoteOptions {
	return RemoteOptions{
		Addr:     c.Addr,
		User:     c.User,
		Password: c.Password,
		KeyPath:  c.KeyPath,
		Dir:      c.Dir,
	}
}
