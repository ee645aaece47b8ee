// Package catalog assembles the cross-provider browse views the HTTP API
// exposes: the deduplicated home feed and genre search. Both sit above the
// resolver/enrichment pipeline, wiring the existing provider scrapers and
// the mapping resolver together to produce what's behind `/api/v1/home` and
// `/api/v1/search`.
package catalog

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/resolver"
	"github.com/kurobara/anisource/pkg/titlenorm"
)

// HomeCard is one deduplicated home-feed entry. A title scraped off more
// than one provider's front page is merged into a single card; Sources and
// Slugs are parallel arrays (index i of one corresponds to index i of the
// other), ProviderSlugs is the same association keyed by provider name.
type HomeCard struct {
	Name          string            `json:"name"`
	Cover         string            `json:"cover"`
	Slugs         []string          `json:"slugs"`
	Provider      string            `json:"provider"`
	Sources       []string          `json:"sources"`
	ProviderSlugs map[string]string `json:"providerSlugs"`
}

type homeScrape struct {
	provider string
	cards    []providers.Card
}

// Home scrapes every configured provider's front page concurrently and
// merges cards sharing a canonical title into one entry.
func Home(ctx context.Context, scrapers map[string]providers.Scraper) []HomeCard {
	var mu sync.Mutex
	var results []homeScrape

	g, gctx := errgroup.WithContext(ctx)
	for name, scraper := range scrapers {
		name, scraper := name, scraper
		g.Go(func() error {
			cards, err := scraper.ScrapeHome(gctx)
			if err != nil {
				logger.Errorf(err, "scrape home provider=%s", name)
				return nil
			}
			mu.Lock()
			results = append(results, homeScrape{provider: name, cards: cards})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var merged []HomeCard
	index := map[string]int{}

	for _, r := range results {
		for _, card := range r.cards {
			key := titlenorm.CanonicalSlug(card.CardTitle)
			if key == "" {
				key = r.provider + ":" + card.Slug
			}

			if i, ok := index[key]; ok {
				merged[i].Sources = append(merged[i].Sources, r.provider)
				merged[i].Slugs = append(merged[i].Slugs, card.Slug)
				merged[i].ProviderSlugs[r.provider] = card.Slug
				continue
			}

			index[key] = len(merged)
			merged = append(merged, HomeCard{
				Name:          card.CardTitle,
				Cover:         card.CoverURL,
				Provider:      r.provider,
				Sources:       []string{r.provider},
				Slugs:         []string{card.Slug},
				ProviderSlugs: map[string]string{r.provider: card.Slug},
			})
		}
	}
	return merged
}

// GenreCard is one genre-search result, identified by MAL id once the
// mapping resolver has run against the scraped card.
type GenreCard struct {
	MALID int    `json:"mal_id"`
	Name  string `json:"name"`
	Cover string `json:"cover"`
}

type genreScrape struct {
	provider    string
	cards       []providers.Card
	hasNextPage bool
}

// SearchByGenre scrapes every configured provider's genre archive page for
// the given page, resolves each card to its MAL identity through res, and
// returns up to 10 deduplicated results plus whether any provider reports a
// further page. A card that fails resolution (scrape error, no MAL match)
// is dropped rather than failing the whole request.
func SearchByGenre(ctx context.Context, scrapers map[string]providers.Scraper, res *resolver.Resolver, genre string, page int) ([]GenreCard, bool, error) {
	const pageSize = 10

	var mu sync.Mutex
	var results []genreScrape

	g, gctx := errgroup.WithContext(ctx)
	for name, scraper := range scrapers {
		name, scraper := name, scraper
		g.Go(func() error {
			cards, hasNext, err := scraper.SearchByGenre(gctx, genre, page)
			if err != nil {
				logger.Errorf(err, "search genre %q provider=%s page=%d", genre, name, page)
				return nil
			}
			mu.Lock()
			results = append(results, genreScrape{provider: name, cards: cards, hasNextPage: hasNext})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	seen := map[int]bool{}
	hasNextPage := false
	var out []GenreCard

	for _, r := range results {
		if r.hasNextPage {
			hasNextPage = true
		}
		for _, card := range r.cards {
			if len(out) >= pageSize {
				continue
			}

			result, err := res.ResolveBySlug(ctx, r.provider, card.Slug)
			if err != nil {
				logger.Errorf(err, "resolve genre card provider=%s slug=%s", r.provider, card.Slug)
				continue
			}
			if seen[result.Mapping.MAL.MALID] {
				continue
			}
			seen[result.Mapping.MAL.MALID] = true

			name := result.Mapping.MAL.Title
			if name == "" {
				name = card.CardTitle
			}
			cover := result.Mapping.MAL.ImageURL
			if cover == "" {
				cover = card.CoverURL
			}

			out = append(out, GenreCard{MALID: result.Mapping.MAL.MALID, Name: name, Cover: cover})
		}
	}
	return out, hasNextPage, nil
}
