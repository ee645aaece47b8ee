package storage

import (
	"context"
	"fmt"

	"github.com/kurobara/anisource/pkg/config"
)

const (
	ProviderGCS   = "gcs"
	ProviderMinIO = "minio"
	ProviderLocal = "local"
)

// NewTargets builds one Target per configured archival account. The
// archival worker pushes each finished file to every target it gets back
// here; the first upload to succeed becomes the video store entry's
// primary URL.
func NewTargets(ctx context.Context, cfg config.StorageConfig) ([]Target, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no storage accounts configured")
	}

	targets := make([]Target, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		target, err := newTarget(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", account.Name, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func newTarget(ctx context.Context, account config.StorageAccountConfig) (Target, error) {
	switch account.Provider {
	case ProviderGCS:
		if account.GCS.Bucket == "" {
			return nil, fmt.Errorf("GCS bucket name is required")
		}
		return NewGCSTarget(ctx, account.Name, account.GCS.Bucket)

	case ProviderMinIO:
		if account.MinIO.Endpoint == "" {
			return nil, fmt.Errorf("MinIO endpoint is required")
		}
		if account.MinIO.Bucket == "" {
			return nil, fmt.Errorf("MinIO bucket name is required")
		}
		return NewMinIOTarget(
			account.Name,
			account.MinIO.Endpoint,
			account.MinIO.AccessKey,
			account.MinIO.SecretKey,
			account.MinIO.Bucket,
			account.MinIO.UseSSL,
			account.MinIO.PublicEndpoint,
		)

	case ProviderLocal:
		return NewLocalTarget(account.Name, account.Local.BasePath, account.Local.BaseURL)
	}

	return nil, fmt.Errorf("unsupported storage provider: %s. Supported: gcs, minio, local", account.Provider)
}
