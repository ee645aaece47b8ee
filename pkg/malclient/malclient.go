// Package malclient is a throttled client for the Jikan REST mirror of
// MyAnimeList. It never issues more than one request per configured
// interval, matching the rate the upstream API tolerates from anonymous
// clients.
package malclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/kurobara/anisource/pkg/logger"
)

// Anime is the subset of the Jikan anime resource the resolver needs.
type Anime struct {
	MALID       int      `json:"mal_id"`
	Title       string   `json:"title"`
	TitleEn     string   `json:"title_english"`
	TitleJp     string   `json:"title_japanese"`
	Synonyms    []string `json:"title_synonyms"`
	Episodes    int      `json:"episodes"`
	Year        int      `json:"year"`
	Synopsis    string   `json:"synopsis"`
	Images      Images   `json:"images"`
	MainPicture string   `json:"-"`
}

type Images struct {
	JPG ImageSet `json:"jpg"`
}

type ImageSet struct {
	ImageURL      string `json:"image_url"`
	LargeImageURL string `json:"large_image_url"`
	SmallImageURL string `json:"small_image_url"`
}

// AllTitles returns every title variant Jikan reports for this entry, used
// to widen the candidate search.
func (a Anime) AllTitles() []string {
	titles := []string{a.Title}
	if a.TitleEn != "" {
		titles = append(titles, a.TitleEn)
	}
	if a.TitleJp != "" {
		titles = append(titles, a.TitleJp)
	}
	titles = append(titles, a.Synonyms...)
	return titles
}

type searchResponse struct {
	Data []Anime `json:"data"`
}

type byIDResponse struct {
	Data Anime `json:"data"`
}

// Client is a throttled Jikan HTTP client. At most one request is started
// per throttle interval (the throttle passed to New) across every caller
// sharing the Client, since Jikan rate-limits per source IP rather than per
// caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	throttle   time.Duration

	mu       sync.Mutex
	lastCall time.Time

	cache Cache
}

// Cache is an optional secondary lookup used to avoid re-querying Jikan for
// a title that was already resolved recently. A nil Cache disables it.
type Cache interface {
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// New creates a Jikan client. baseURL is typically
// "https://api.jikan.moe/v4". throttle is the minimum gap enforced between
// consecutive outbound requests.
func New(baseURL string, throttle time.Duration, requestTimeout time.Duration, cache Cache) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		throttle:   throttle,
		cache:      cache,
	}
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.throttle {
		select {
		case <-time.After(c.throttle - elapsed):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.lastCall = time.Now()
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build jikan request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jikan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jikan returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jikan response: %w", err)
	}
	return nil
}

// SearchByTitle returns candidate anime matching the given query string.
func (c *Client) SearchByTitle(ctx context.Context, query string) ([]Anime, error) {
	cacheKey := "mal:search:" + query
	if c.cache != nil {
		var cached searchResponse
		if hit, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached.Data, nil
		}
	}

	path := fmt.Sprintf("/anime?q=%s&limit=5", url.QueryEscape(query))
	var out searchResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, out, time.Hour); err != nil {
			logger.Errorf(err, "cache mal search result for %q", query)
		}
	}
	return out.Data, nil
}

// GetByID fetches a single anime by its MyAnimeList ID.
func (c *Client) GetByID(ctx context.Context, malID int) (Anime, error) {
	cacheKey := "mal:id:" + strconv.Itoa(malID)
	if c.cache != nil {
		var cached byIDResponse
		if hit, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached.Data, nil
		}
	}

	var out byIDResponse
	if err := c.get(ctx, fmt.Sprintf("/anime/%d", malID), &out); err != nil {
		return Anime{}, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, out, 24*time.Hour); err != nil {
			logger.Errorf(err, "cache mal entry for id %d", malID)
		}
	}
	return out.Data, nil
}

// GetFullByID fetches the "full" Jikan payload, which includes synonyms and
// related entries not present in the list/search responses. It is used
// sparingly since /full is the most rate-limited Jikan endpoint.
func (c *Client) GetFullByID(ctx context.Context, malID int) (Anime, error) {
	var out byIDResponse
	if err := c.get(ctx, fmt.Sprintf("/anime/%d/full", malID), &out); err != nil {
		return Anime{}, err
	}
	return out.Data, nil
}

// MultiQuerySearch runs several query variants (raw title, cleaned title,
// season-stripped title) and merges results, returning the best-scoring
// match along with its score. It exits early once a strong, year-consistent
// match is found to avoid burning the whole throttle budget on one lookup.
func (c *Client) MultiQuerySearch(ctx context.Context, queries []string, year int, scoreFn func(Anime) float64) (Anime, float64, bool) {
	var best Anime
	var bestScore float64
	found := false

	for _, q := range queries {
		if q == "" {
			continue
		}
		candidates, err := c.SearchByTitle(ctx, q)
		if err != nil {
			logger.Errorf(err, "mal search failed for query %q", q)
			continue
		}

		for _, cand := range candidates {
			score := scoreFn(cand)
			if score > bestScore {
				best = cand
				bestScore = score
				found = true
			}
			if score >= 0.85 && yearWithinOne(year, cand.Year) {
				return cand, score, true
			}
		}
	}

	return best, bestScore, found
}

// yearWithinOne reports whether a and b are within 1 of each other, treating
// either side being unknown (0) as not disqualifying.
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

// ValidateMetadata checks that a candidate's episode count is within
// tolerance of what was scraped, guarding against picking a sequel/prequel
// that merely shares a similar title.
func ValidateMetadata(candidate Anime, scrapedEpisodes, tolerance int) bool {
	if candidate.Episodes == 0 || scrapedEpisodes == 0 {
		return true
	}
	diff := candidate.Episodes - scrapedEpisodes
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
