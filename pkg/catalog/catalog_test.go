package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kurobara/anisource/pkg/providers"
)

type stubHomeScraper struct {
	name  string
	cards []providers.Card
}

func (s stubHomeScraper) Name() string         { return s.name }
func (s stubHomeScraper) DomainFamily() string { return s.name + ".test" }
func (s stubHomeScraper) ScrapeDetail(ctx context.Context, slug string) (providers.ScrapedDetail, error) {
	return providers.ScrapedDetail{}, nil
}
func (s stubHomeScraper) SearchCards(ctx context.Context, query string) ([]providers.Card, error) {
	return nil, nil
}
func (s stubHomeScraper) EpisodeServers(ctx context.Context, slug string, episode int) ([]providers.EmbedServer, error) {
	return nil, nil
}
func (s stubHomeScraper) ScrapeHome(ctx context.Context) ([]providers.Card, error) {
	return s.cards, nil
}
func (s stubHomeScraper) SearchByGenre(ctx context.Context, genre string, page int) ([]providers.Card, bool, error) {
	return nil, false, nil
}

func TestHome_MergesSameTitleAcrossProviders(t *testing.T) {
	scrapers := map[string]providers.Scraper{
		"animasu": stubHomeScraper{name: "animasu", cards: []providers.Card{
			{Slug: "jigokuraku-s2", CoverURL: "https://animasu.cc/cover.jpg", CardTitle: "Jigokuraku Season 2"},
		}},
		"samehadaku": stubHomeScraper{name: "samehadaku", cards: []providers.Card{
			{Slug: "jigokuraku-season-2", CoverURL: "https://samehadaku.care/cover.jpg", CardTitle: "Jigokuraku Season 2"},
		}},
	}

	got := Home(context.Background(), scrapers)
	assert.Len(t, got, 1)
	assert.ElementsMatch(t, []string{"animasu", "samehadaku"}, got[0].Sources)
	assert.Len(t, got[0].Slugs, 2)
	assert.Equal(t, "jigokuraku-s2", got[0].ProviderSlugs["animasu"])
	assert.Equal(t, "jigokuraku-season-2", got[0].ProviderSlugs["samehadaku"])
}

func TestHome_KeepsDistinctTitlesSeparate(t *testing.T) {
	scrapers := map[string]providers.Scraper{
		"animasu": stubHomeScraper{name: "animasu", cards: []providers.Card{
			{Slug: "a", CoverURL: "https://animasu.cc/a.jpg", CardTitle: "Show A"},
			{Slug: "b", CoverURL: "https://animasu.cc/b.jpg", CardTitle: "Show B"},
		}},
	}

	got := Home(context.Background(), scrapers)
	assert.Len(t, got, 2)
}
