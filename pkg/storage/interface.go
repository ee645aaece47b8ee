package storage

import (
	"context"
	"strings"
)

// Target is one durable object-storage backend the archival worker can push
// an archived file to. A single job may push to several targets for
// redundancy; the first successful target's DirectURL becomes the video
// store entry's primary URL.
type Target interface {
	// Name identifies the target in logs, and is recorded as the video store
	// entry's repo_id when this target supplies the primary URL.
	Name() string

	// UploadFromPath uploads the local file at localPath to storagePath.
	UploadFromPath(ctx context.Context, localPath, storagePath string) error

	// DirectURL returns a URL the stream proxy can fetch the object from. It
	// is not required to be permanent; the proxy re-derives it on every
	// request.
	DirectURL(ctx context.Context, storagePath string) (string, error)
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(path, ".ts"):
		return "video/MP2T"
	case strings.HasSuffix(path, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
