package archivalworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDirectVideoURL(t *testing.T) {
	assert.True(t, isDirectVideoURL("https://cdn.example/video.mp4"))
	assert.True(t, isDirectVideoURL("https://cdn.example/master.m3u8?token=1"))
	assert.False(t, isDirectVideoURL("https://host.example/embed/abc123"))
}

func TestNew_AppliesDefaults(t *testing.T) {
	w := New(nil, nil, nil, Config{})
	assert.Equal(t, int64(2), w.cfg.Concurrency)
	assert.Equal(t, 3, w.cfg.DownloadRetries)
	assert.Equal(t, 2, w.cfg.ClaimBatch)
	assert.NotNil(t, w.sem)
}
