package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kurobara/anisource/pkg/hostresolver"
	"github.com/kurobara/anisource/pkg/mapping"
	"github.com/kurobara/anisource/pkg/providers"
)

type stubScraper struct {
	servers []providers.EmbedServer
}

func (s stubScraper) Name() string         { return "stub" }
func (s stubScraper) DomainFamily() string { return "stub.test" }
func (s stubScraper) ScrapeDetail(ctx context.Context, slug string) (providers.ScrapedDetail, error) {
	return providers.ScrapedDetail{}, nil
}
func (s stubScraper) SearchCards(ctx context.Context, query string) ([]providers.Card, error) {
	return nil, nil
}
func (s stubScraper) EpisodeServers(ctx context.Context, slug string, episode int) ([]providers.EmbedServer, error) {
	return s.servers, nil
}
func (s stubScraper) ScrapeHome(ctx context.Context) ([]providers.Card, error) { return nil, nil }
func (s stubScraper) SearchByGenre(ctx context.Context, genre string, page int) ([]providers.Card, bool, error) {
	return nil, false, nil
}

func TestProxyURL_EmptyTargetYieldsEmpty(t *testing.T) {
	p := New(nil, nil, nil, hostresolver.NewDispatcher(), Config{ProxyBaseURL: "https://proxy.example"})
	assert.Equal(t, "", p.proxyURL(""))
}

func TestProxyURL_EncodesTarget(t *testing.T) {
	p := New(nil, nil, nil, hostresolver.NewDispatcher(), Config{ProxyBaseURL: "https://proxy.example"})
	got := p.proxyURL("https://cdn.example/video.mp4?a=1")
	assert.Equal(t, "https://proxy.example/proxy?url=https%3A%2F%2Fcdn.example%2Fvideo.mp4%3Fa%3D1", got)
}

func TestScrapeAll_SkipsProvidersWithoutASlug(t *testing.T) {
	scrapers := map[string]providers.Scraper{
		"animasu": stubScraper{servers: []providers.EmbedServer{
			{ProviderLabel: "server1", EmbedURL: "https://unknownhost.test/embed/1", Resolution: "720p"},
		}},
	}
	p := New(nil, nil, scrapers, hostresolver.NewDispatcher(), Config{})

	m := mapping.Mapping{Slugs: map[string]string{}}
	got, err := p.scrapeAll(context.Background(), m, 1)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestScrapeAll_CollectsServersForKnownSlug(t *testing.T) {
	scrapers := map[string]providers.Scraper{
		"animasu": stubScraper{servers: []providers.EmbedServer{
			{ProviderLabel: "server1", EmbedURL: "https://unresolved.test/embed/1", Resolution: "720p"},
		}},
	}
	p := New(nil, nil, scrapers, hostresolver.NewDispatcher(), Config{})

	m := mapping.Mapping{Slugs: map[string]string{"animasu": "some-slug"}}
	got, err := p.scrapeAll(context.Background(), m, 1)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "animasu", got[0].provider)
	assert.Equal(t, "720p", got[0].resolution)
}

func TestCache_HitBeforeExpiry(t *testing.T) {
	p := New(nil, nil, map[string]providers.Scraper{}, hostresolver.NewDispatcher(), Config{ScrapeCacheTTL: time.Hour})
	p.cache[cacheKey(1, 2)] = cacheEntry{
		servers:   []scrapedServer{{provider: "animasu", resolution: "720p"}},
		expiresAt: time.Now().Add(time.Hour),
	}

	got, err := p.scrapedServers(context.Background(), mapping.Mapping{MAL: mapping.MALMetadata{MALID: 1}}, 2)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "animasu", got[0].provider)
}

func TestInvalidateCache_RemovesEntry(t *testing.T) {
	p := New(nil, nil, map[string]providers.Scraper{}, hostresolver.NewDispatcher(), Config{})
	p.cache[cacheKey(1, 2)] = cacheEntry{expiresAt: time.Now().Add(time.Hour)}
	p.InvalidateCache(1, 2)
	_, ok := p.cache[cacheKey(1, 2)]
	assert.False(t, ok)
}
