package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/logger"
)

// NewClient logs on connect, so the package logger has to exist before the
// first test touches it.
func TestMain(m *testing.M) {
	logger.InitLogger(&config.Config{Log: config.LogConfig{Level: "error", Format: "console"}})
	os.Exit(m.Run())
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, port, ok := strings.Cut(mr.Addr(), ":")
	require.True(t, ok)

	cfg := &config.Config{Redis: config.RedisConfig{Host: host, Port: port}}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestClient_SetGet(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", map[string]int{"mal_id": 21}, time.Minute))

	var out map[string]int
	require.NoError(t, client.Get(ctx, "k", &out))
	assert.Equal(t, 21, out["mal_id"])
}

func TestClient_Get_MissingKey(t *testing.T) {
	client, _ := newTestClient(t)
	var out map[string]int
	err := client.Get(context.Background(), "missing", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not found")
}

func TestClient_Set_Overwrites(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "first", time.Minute))
	require.NoError(t, client.Set(ctx, "k", "second", time.Minute))

	var out string
	require.NoError(t, client.Get(ctx, "k", &out))
	assert.Equal(t, "second", out)
}

func TestClient_Set_ExpiresAfterTTL(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "ttl", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	var out string
	err := client.Get(ctx, "ttl", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not found")
}
