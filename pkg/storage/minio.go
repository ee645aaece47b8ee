package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kurobara/anisource/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioTarget implements Target on top of a MinIO (or S3-compatible) bucket.
type minioTarget struct {
	name           string
	client         *minio.Client
	bucket         string
	publicClient   *minio.Client
	publicEndpoint string
	useSSL         bool
}

// NewMinIOTarget creates a MinIO-backed archival target identified by name
// (one of possibly several configured accounts).
func NewMinIOTarget(name, endpoint, accessKey, secretKey, bucket string, useSSL bool, publicEndpoint string) (Target, error) {
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicClient, err := minio.New(publicEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create public minio client: %w", err)
	}

	t := &minioTarget{
		name:           name,
		client:         client,
		bucket:         bucket,
		publicClient:   publicClient,
		publicEndpoint: publicEndpoint,
		useSSL:         useSSL,
	}

	if err := t.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	logger.Infof("minio archival target %q ready (bucket %s)", name, bucket)
	return t, nil
}

func (m *minioTarget) Name() string { return m.name }

func (m *minioTarget) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (m *minioTarget) UploadFromPath(ctx context.Context, localPath, storagePath string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, storagePath, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(storagePath),
	})
	if err != nil {
		return fmt.Errorf("upload to minio target %s: %w", m.name, err)
	}
	return nil
}

func (m *minioTarget) DirectURL(ctx context.Context, storagePath string) (string, error) {
	presigned, err := m.publicClient.PresignedGetObject(ctx, m.bucket, storagePath, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign minio url: %w", err)
	}
	return presigned.String(), nil
}
