package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// localTarget implements Target on the local filesystem, for development
// without MinIO/GCS credentials configured.
type localTarget struct {
	name     string
	basePath string
	baseURL  string
}

// NewLocalTarget creates a filesystem-backed archival target.
func NewLocalTarget(name, basePath, baseURL string) (Target, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &localTarget{name: name, basePath: basePath, baseURL: baseURL}, nil
}

func (l *localTarget) Name() string { return l.name }

func (l *localTarget) UploadFromPath(ctx context.Context, localPath, storagePath string) error {
	fullPath := filepath.Join(l.basePath, storagePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy to local target %s: %w", l.name, err)
	}
	return nil
}

func (l *localTarget) DirectURL(ctx context.Context, storagePath string) (string, error) {
	return fmt.Sprintf("%s/%s", l.baseURL, storagePath), nil
}
