package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobara/anisource/pkg/malclient"
	"github.com/kurobara/anisource/pkg/providers"
)

type fakeScraper struct {
	domainFamily string
	cards        map[string][]providers.Card
	details      map[string]providers.ScrapedDetail
}

func (f *fakeScraper) Name() string         { return "fake" }
func (f *fakeScraper) DomainFamily() string { return f.domainFamily }

func (f *fakeScraper) ScrapeDetail(ctx context.Context, slug string) (providers.ScrapedDetail, error) {
	d, ok := f.details[slug]
	if !ok {
		return providers.ScrapedDetail{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeScraper) SearchCards(ctx context.Context, query string) ([]providers.Card, error) {
	return f.cards[query], nil
}

func (f *fakeScraper) EpisodeServers(ctx context.Context, slug string, episode int) ([]providers.EmbedServer, error) {
	return nil, nil
}

func (f *fakeScraper) ScrapeHome(ctx context.Context) ([]providers.Card, error) {
	return nil, nil
}

func (f *fakeScraper) SearchByGenre(ctx context.Context, genre string, page int) ([]providers.Card, bool, error) {
	return nil, false, nil
}

func newTestResolver() *Resolver {
	return &Resolver{cfg: Config{
		PHashHammingThreshold: 5,
		TitleSimilarity:       0.85,
		EpisodeTolerance:      2,
	}}
}

func TestDiscoverOn_MatchesViaSearchCardMetadata(t *testing.T) {
	r := newTestResolver()
	scraper := &fakeScraper{
		domainFamily: "example.test",
		cards: map[string][]providers.Card{
			"Sample Anime": {{Slug: "sample-anime", CardTitle: "Sample Anime"}},
		},
		details: map[string]providers.ScrapedDetail{
			"sample-anime": {Title: "Sample Anime", CoverURL: "https://example.test/cover.jpg", Year: 2020, TotalEpisodes: 12},
		},
	}
	mal := malclient.Anime{MALID: 1, Title: "Sample Anime", Year: 2020, Episodes: 12}

	result, ok := r.discoverOn(context.Background(), "other", scraper, mal, "")
	require.True(t, ok)
	assert.Equal(t, "sample-anime", result.Slug)
}

func TestDiscoverOn_CardGateRejectsOversizedResultSet(t *testing.T) {
	r := newTestResolver()
	var cards []providers.Card
	for i := 0; i < cardGateLimit+1; i++ {
		cards = append(cards, providers.Card{Slug: "irrelevant"})
	}
	scraper := &fakeScraper{
		domainFamily: "example.test",
		cards:        map[string][]providers.Card{"Sample Anime": cards},
		details:      map[string]providers.ScrapedDetail{},
	}
	mal := malclient.Anime{Title: "Sample Anime", Year: 2020, Episodes: 12}

	_, ok := r.discoverOn(context.Background(), "other", scraper, mal, "")
	assert.False(t, ok)
}

func TestDiscoverOn_SkipsGateForFlaggedProvider(t *testing.T) {
	r := newTestResolver()
	cards := []providers.Card{{Slug: "sample-anime"}}
	for i := 0; i < cardGateLimit; i++ {
		cards = append(cards, providers.Card{Slug: "noise"})
	}
	scraper := &fakeScraper{
		domainFamily: "example.test",
		cards:        map[string][]providers.Card{"Sample Anime": cards},
		details: map[string]providers.ScrapedDetail{
			"sample-anime": {Title: "Sample Anime", CoverURL: "https://example.test/cover.jpg", Year: 2020, TotalEpisodes: 12},
		},
	}
	mal := malclient.Anime{Title: "Sample Anime", Year: 2020, Episodes: 12}

	result, ok := r.discoverOn(context.Background(), "samehadaku", scraper, mal, "")
	require.True(t, ok)
	assert.Equal(t, "sample-anime", result.Slug)
}

func TestDiscoverOn_DirectSlugFallback_RejectsSeasonedTitleOnTitleOnlyMatch(t *testing.T) {
	r := newTestResolver()
	scraper := &fakeScraper{
		domainFamily: "example.test",
		cards:        map[string][]providers.Card{},
		details: map[string]providers.ScrapedDetail{
			"sample-anime-part-2": {Title: "Sample Anime Part 2"},
		},
	}
	mal := malclient.Anime{Title: "Sample Anime 2nd Season"}

	_, ok := r.discoverOn(context.Background(), "other", scraper, mal, "")
	assert.False(t, ok)
}

func TestDiscoverOn_DirectSlugFallback_AcceptsUnseasonedTitleOnlyMatch(t *testing.T) {
	r := newTestResolver()
	scraper := &fakeScraper{
		domainFamily: "example.test",
		cards:        map[string][]providers.Card{},
		details: map[string]providers.ScrapedDetail{
			"sample-anime": {Title: "Sample Anime"},
		},
	}
	mal := malclient.Anime{Title: "Sample Anime"}

	result, ok := r.discoverOn(context.Background(), "other", scraper, mal, "")
	require.True(t, ok)
	assert.Equal(t, "sample-anime", result.Slug)
}

func TestDiscoverOn_NoMatchAnywhereReturnsFalse(t *testing.T) {
	r := newTestResolver()
	scraper := &fakeScraper{domainFamily: "example.test"}
	mal := malclient.Anime{Title: "Totally Unknown Title"}

	_, ok := r.discoverOn(context.Background(), "other", scraper, mal, "")
	assert.False(t, ok)
}

func TestBuildProviderQueries_DedupesAndDerivesVariants(t *testing.T) {
	mal := malclient.Anime{Title: "Sample Anime: Second Arc", TitleEn: "Sample Anime: Second Arc"}
	queries := buildProviderQueries(mal)
	assert.Contains(t, queries, "Sample Anime: Second Arc")
	assert.Contains(t, queries, "Sample Anime")

	seen := map[string]bool{}
	for _, q := range queries {
		assert.False(t, seen[q], "query %q repeated", q)
		seen[q] = true
	}
}

func TestCandidateSlugs_DerivesSeparatorAndSeasonVariants(t *testing.T) {
	slugs := candidateSlugs("Sample Anime: 2nd Season", 0)
	assert.Contains(t, slugs, "sample-anime-part-2")
	assert.Contains(t, slugs, "sample-anime")

	withYear := candidateSlugs("Sample Anime", 2020)
	assert.Contains(t, withYear, "sample-anime-2020")
}

func TestYearWithinOne(t *testing.T) {
	assert.True(t, yearWithinOne(2020, 2021))
	assert.True(t, yearWithinOne(0, 2021))
	assert.False(t, yearWithinOne(2019, 2021))
}

func TestMergeSlugs(t *testing.T) {
	dst := map[string]string{"animasu": "one-piece"}
	mergeSlugs(dst, map[string]string{"samehadaku": "one-piece-sub"})
	assert.Equal(t, "one-piece", dst["animasu"])
	assert.Equal(t, "one-piece-sub", dst["samehadaku"])
}

func TestProviderSkipsCardGating(t *testing.T) {
	assert.True(t, providerSkipsCardGating("samehadaku"))
	assert.False(t, providerSkipsCardGating("animasu"))
}
