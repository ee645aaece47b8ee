package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

// gcsTarget implements Target on top of Google Cloud Storage — a second
// archival account family alongside minioTarget, giving the worker a real
// cross-provider redundancy pair.
type gcsTarget struct {
	name   string
	client *storage.Client
	bucket string
}

// NewGCSTarget creates a GCS-backed archival target.
func NewGCSTarget(ctx context.Context, name, bucket string) (Target, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsTarget{name: name, client: client, bucket: bucket}, nil
}

func (g *gcsTarget) Name() string { return g.name }

func (g *gcsTarget) UploadFromPath(ctx context.Context, localPath, storagePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer file.Close()

	obj := g.client.Bucket(g.bucket).Object(storagePath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentTypeFor(storagePath)

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return fmt.Errorf("copy to gcs target %s: %w", g.name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gcs writer: %w", err)
	}
	return nil
}

func (g *gcsTarget) DirectURL(ctx context.Context, storagePath string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(24 * time.Hour),
	}
	url, err := storage.SignedURL(g.bucket, storagePath, opts)
	if err != nil {
		return "", fmt.Errorf("sign gcs url: %w", err)
	}
	return url, nil
}
