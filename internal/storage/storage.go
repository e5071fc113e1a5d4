// Package storage abstracts blob storage behind presigned URLs so file
// bytes never pass through the API process.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Plabrum/arive/internal/config"
)

// Storage is the blob store contract. S3 backs production; the local
// implementation exists for development and tests.
type Storage interface {
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error)
	Put(ctx context.Context, key, contentType string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return newS3Storage(ctx, cfg)
	case "local", "":
		return NewLocalStorage(cfg.LocalPath), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
