package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps blobs on the local filesystem. The "presigned" URLs
// are paths under /files/ that the server serves directly; there is no
// expiry enforcement locally.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	if basePath == "" {
		basePath = "data/files"
	}
	return &LocalStorage{basePath: basePath}
}

func (s *LocalStorage) PresignUpload(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "/files/" + key, nil
}

func (s *LocalStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "/files/" + key, nil
}

func (s *LocalStorage) Put(_ context.Context, key, _ string, r io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// Drop the parent dir when it is now empty.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// resolve maps a key to a path under basePath, rejecting traversal.
func (s *LocalStorage) resolve(key string) (string, error) {
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return filepath.Join(s.basePath, clean), nil
}
