package hostresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubResolver struct {
	url string
	ok  bool
}

func (s stubResolver) Resolve(ctx context.Context, embedURL string) (string, bool) {
	return s.url, s.ok
}

func TestDispatcher_MatchesRegisteredHost(t *testing.T) {
	d := &Dispatcher{}
	d.Register(suffixMatch("example.test"), stubResolver{url: "https://direct/a.mp4", ok: true})

	url, ok := d.Resolve(context.Background(), "https://cdn.example.test/embed/1")
	assert.True(t, ok)
	assert.Equal(t, "https://direct/a.mp4", url)
}

func TestDispatcher_UnknownHostReturnsFalse(t *testing.T) {
	d := &Dispatcher{}
	_, ok := d.Resolve(context.Background(), "https://unknown.host/embed/1")
	assert.False(t, ok)
}

func TestDispatcher_FirstMatchWins(t *testing.T) {
	d := &Dispatcher{}
	d.Register(suffixMatch("example.test"), stubResolver{url: "first", ok: true})
	d.Register(suffixMatch("example.test"), stubResolver{url: "second", ok: true})

	url, _ := d.Resolve(context.Background(), "https://example.test/x")
	assert.Equal(t, "first", url)
}
