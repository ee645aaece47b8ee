// Package resolver is the mapping resolver (C6): the full multi-factor
// discovery pipeline that identifies the same anime across every provider
// and MyAnimeList, behind a per-key request-coalescing lock.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/malclient"
	"github.com/kurobara/anisource/pkg/mapping"
	"github.com/kurobara/anisource/pkg/phash"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/titlenorm"
)

// Config carries the thresholds the discovery pipeline gates decisions on.
type Config struct {
	PHashHammingThreshold int
	TitleSimilarity       float64
	EpisodeTolerance      int
}

// Resolver runs the mapping discovery pipeline: scrape, hash, visually
// match, fall back to MAL search, then cross-provider discovery, before
// upserting the result.
type Resolver struct {
	store    *mapping.Store
	mal      *malclient.Client
	scrapers map[string]providers.Scraper
	cfg      Config
	coalesce singleflight.Group
}

func New(store *mapping.Store, mal *malclient.Client, scrapers map[string]providers.Scraper, cfg Config) *Resolver {
	return &Resolver{store: store, mal: mal, scrapers: scrapers, cfg: cfg}
}

// Result wraps a resolved mapping with whether it came from the mapping
// store without running discovery, the cached-vs-cold distinction the
// anime endpoints surface to clients.
type Result struct {
	Mapping mapping.Mapping
	Cached  bool
}

// ResolveBySlug is the by-provider-slug entry point, coalesced per
// "provider:slug" key.
func (r *Resolver) ResolveBySlug(ctx context.Context, provider, slug string) (Result, error) {
	key := fmt.Sprintf("%s:%s", provider, slug)
	result, err, _ := r.coalesce.Do(key, func() (interface{}, error) {
		return r.discoverBySlug(ctx, provider, slug)
	})
	if err != nil {
		return Result{}, err
	}
	return result.(Result), nil
}

// ResolveByMALID is the by-MAL-id entry point, coalesced per "mal:<id>" key.
func (r *Resolver) ResolveByMALID(ctx context.Context, malID int) (Result, error) {
	key := "mal:" + strconv.Itoa(malID)
	result, err, _ := r.coalesce.Do(key, func() (interface{}, error) {
		return r.discoverByMALID(ctx, malID)
	})
	if err != nil {
		return Result{}, err
	}
	return result.(Result), nil
}

func (r *Resolver) discoverBySlug(ctx context.Context, sourceProvider, slug string) (Result, error) {
	if m, err := r.store.FindBySlug(ctx, sourceProvider, slug); err == nil {
		return Result{Mapping: m, Cached: true}, nil
	}

	scraper, ok := r.scrapers[sourceProvider]
	if !ok {
		return Result{}, fmt.Errorf("unknown provider %q", sourceProvider)
	}

	detail, err := scraper.ScrapeDetail(ctx, slug)
	if err != nil {
		return Result{}, fmt.Errorf("scrape detail for %s/%s: %w", sourceProvider, slug, err)
	}

	sourceHash, hasHash := r.coverHash(ctx, detail.CoverURL, scraper.DomainFamily())

	var malCandidate malclient.Anime
	var malFound bool

	if hasHash {
		if candidate, err := r.store.FindNearestPHash(ctx, sourceHash, r.cfg.PHashHammingThreshold); err == nil {
			// The visual match alone confirms the MAL id; the Jikan refresh
			// just picks up fresher metadata when it happens to succeed.
			malCandidate = animeFromMapping(candidate.Mapping)
			malFound = true
			if anime, malErr := r.mal.GetByID(ctx, candidate.Mapping.MAL.MALID); malErr == nil {
				malCandidate = anime
			}
		}
	}

	if !malFound {
		malCandidate, malFound = r.malFallback(ctx, detail)
	}

	if !malFound {
		return Result{}, fmt.Errorf("no MAL candidate accepted for %s/%s", sourceProvider, slug)
	}

	knownHash := sourceHash
	discovered := map[string]string{sourceProvider: slug}

	for name, target := range r.scrapers {
		if name == sourceProvider {
			continue
		}
		result, ok := r.discoverOn(ctx, name, target, malCandidate, knownHash)
		if !ok {
			continue
		}
		discovered[name] = result.Slug
		if knownHash == "" && result.PHash != "" {
			knownHash = result.PHash
		}
	}

	m, err := r.upsert(ctx, slug, malCandidate, knownHash)
	if err != nil {
		return Result{}, err
	}
	r.persistSlugs(ctx, m.ID, discovered)
	mergeSlugs(m.Slugs, discovered)
	return Result{Mapping: m, Cached: false}, nil
}

func (r *Resolver) discoverByMALID(ctx context.Context, malID int) (Result, error) {
	if m, err := r.store.FindByMALID(ctx, malID); err == nil {
		return Result{Mapping: m, Cached: true}, nil
	}

	anime, err := r.mal.GetFullByID(ctx, malID)
	if err != nil {
		return Result{}, fmt.Errorf("fetch mal id %d: %w", malID, err)
	}

	var knownHash string
	discovered := map[string]string{}
	for name, target := range r.scrapers {
		result, ok := r.discoverOn(ctx, name, target, anime, knownHash)
		if !ok {
			continue
		}
		discovered[name] = result.Slug
		if knownHash == "" && result.PHash != "" {
			knownHash = result.PHash
		}
	}

	m, err := r.upsertMALOnly(ctx, anime, knownHash)
	if err != nil {
		return Result{}, err
	}
	r.persistSlugs(ctx, m.ID, discovered)
	mergeSlugs(m.Slugs, discovered)
	return Result{Mapping: m, Cached: false}, nil
}

// animeFromMapping rebuilds a minimal MAL candidate out of a stored
// mapping's metadata, for when a visual match confirms the id but the
// Jikan refresh is unavailable.
func animeFromMapping(m mapping.Mapping) malclient.Anime {
	a := malclient.Anime{
		MALID:    m.MAL.MALID,
		Title:    m.MAL.Title,
		Episodes: m.MAL.Episodes,
		Year:     m.MAL.Year,
	}
	a.Images.JPG.ImageURL = m.MAL.ImageURL
	return a
}

// mergeSlugs copies each entry of fresh into dst, in place.
func mergeSlugs(dst, fresh map[string]string) {
	for k, v := range fresh {
		dst[k] = v
	}
}

// coverHash validates the cover URL belongs to the provider's domain
// family before hashing it, discarding anything that isn't actually a
// cover image served by that provider.
func (r *Resolver) coverHash(ctx context.Context, coverURL, domainFamily string) (string, bool) {
	if coverURL == "" || !strings.Contains(coverURL, domainFamily) {
		return "", false
	}
	hash, ok := phash.Hash(ctx, coverURL)
	if !ok {
		return "", false
	}
	return hash, true
}

func (r *Resolver) malFallback(ctx context.Context, detail providers.ScrapedDetail) (malclient.Anime, bool) {
	queries := buildMALQueries(detail.Title)
	normQuery := titlenorm.NormaliseSeason(detail.Title)
	queryFloor := titlenorm.CanonicalSlug(normQuery)

	best, score, found := r.mal.MultiQuerySearch(ctx, queries, detail.Year, func(a malclient.Anime) float64 {
		max := 0.0
		for _, title := range a.AllTitles() {
			normTitle := titlenorm.NormaliseSeason(title)
			s := titlenorm.Similarity(normQuery, normTitle)

			if len(queryFloor) >= 5 {
				candSlug := titlenorm.CanonicalSlug(normTitle)
				if strings.HasPrefix(candSlug, queryFloor) || strings.HasPrefix(queryFloor, candSlug) {
					if s < 0.92 {
						s = 0.92
					}
				}
			}

			if s > max {
				max = s
			}
		}
		return max
	})
	if !found {
		return malclient.Anime{}, false
	}

	titleOK := score >= r.cfg.TitleSimilarity
	metadataOK := malclient.ValidateMetadata(best, detail.TotalEpisodes, r.cfg.EpisodeTolerance) &&
		yearWithinOne(best.Year, detail.Year)

	if detail.Year != 0 {
		if !titleOK || !metadataOK {
			return malclient.Anime{}, false
		}
	} else if !titleOK && !metadataOK {
		return malclient.Anime{}, false
	}

	return best, true
}

func buildMALQueries(title string) []string {
	seen := map[string]bool{}
	var queries []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q != "" && !seen[q] {
			seen[q] = true
			queries = append(queries, q)
		}
	}

	add(title)
	if loc := seasonClauseRe.FindStringIndex(title); loc != nil {
		add(strings.TrimSpace(title[:loc[0]]))
	}
	add(titlenorm.NormaliseSeason(title))
	return queries
}

var seasonClauseRe = regexp.MustCompile(`(?i)\b(season\s*\d+|cour\s*\d+|part\s*\d+|\d+(st|nd|rd|th)\s*season|s\d+)\b`)

func yearWithinOne(a, b int) bool {
	if a == 0 || b == 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// persistSlugs records every provider slug discovered during this
// resolution pass, including the originating provider's own slug.
// Providers where discovery found nothing are absent from slugs and are
// left untouched.
func (r *Resolver) persistSlugs(ctx context.Context, mappingID int64, slugs map[string]string) {
	for provider, slug := range slugs {
		if err := r.store.SetSlug(ctx, mappingID, provider, slug); err != nil {
			logger.Errorf(err, "persist slug %s for provider %s on mapping %d", slug, provider, mappingID)
		}
	}
}

func (r *Resolver) upsert(ctx context.Context, fallbackSlug string, mal malclient.Anime, hash string) (mapping.Mapping, error) {
	canonicalSlug := titlenorm.CanonicalSlug(mal.Title)
	if canonicalSlug == "" {
		canonicalSlug = fallbackSlug
	}

	metadata := mapping.MALMetadata{
		MALID:    mal.MALID,
		Title:    mal.Title,
		Episodes: mal.Episodes,
		Year:     mal.Year,
		ImageURL: mal.Images.JPG.ImageURL,
	}

	m, err := r.store.UpsertMapping(ctx, canonicalSlug, metadata, hash)
	if err != nil {
		return mapping.Mapping{}, fmt.Errorf("upsert mapping: %w", err)
	}
	return m, nil
}

func (r *Resolver) upsertMALOnly(ctx context.Context, mal malclient.Anime, hash string) (mapping.Mapping, error) {
	return r.upsert(ctx, "", mal, hash)
}
