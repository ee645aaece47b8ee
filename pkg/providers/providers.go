// Package providers scrapes anime metadata and episode embed URLs from the
// external HTML sites the core resolves mappings against. Selector layout
// is configuration, not code: each provider is a WordPress-style theme
// instance described by a Profile, not a bespoke parser.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ScrapedDetail is the transient per-provider record produced by a detail
// page scrape.
type ScrapedDetail struct {
	Title         string
	CoverURL      string
	Year          int
	TotalEpisodes int
	Slug          string
	Provider      string
}

// Card is a search-result entry: a candidate title with enough information
// to decide whether it is worth opening the detail page for.
type Card struct {
	Slug      string
	CoverURL  string
	CardTitle string
}

// EmbedServer is one streaming mirror found on an episode page, before any
// host resolver has touched it.
type EmbedServer struct {
	ProviderLabel string
	EmbedURL      string
	Resolution    string
}

// EpisodeEntry is one listed episode for a provider's mapping slug, as
// surfaced by the anime detail endpoints. The provider's actual episode-page
// URL template stays internal to the scraper.
type EpisodeEntry struct {
	Episode int `json:"episode"`
}

// Scraper is the collaborator interface the resolver and enrichment
// pipeline depend on. One Scraper instance exists per configured provider.
type Scraper interface {
	Name() string
	DomainFamily() string
	ScrapeDetail(ctx context.Context, slug string) (ScrapedDetail, error)
	SearchCards(ctx context.Context, query string) ([]Card, error)
	EpisodeServers(ctx context.Context, slug string, episode int) ([]EmbedServer, error)

	// ScrapeHome lists the provider's current front-page cards (latest or
	// most-popular releases), feeding the home endpoint's cross-provider
	// aggregation.
	ScrapeHome(ctx context.Context) ([]Card, error)

	// SearchByGenre lists cards for one genre archive page. hasNextPage
	// reports whether another page is available.
	SearchByGenre(ctx context.Context, genre string, page int) (cards []Card, hasNextPage bool, err error)
}

// Profile describes one WordPress-style provider theme: the URL templates
// and CSS selectors needed to drive goquery against its markup.
type Profile struct {
	Name         string
	BaseURL      string
	DomainFamily string

	DetailURLTemplate  string // "%s/anime/%s/"
	SearchURLTemplate  string // "%s/?s=%s"
	EpisodeURLTemplate string // "%s/anime/%s/episode-%d/"
	HomeURLTemplate    string // "%s/anime-terbaru/"
	GenreURLTemplate   string // "%s/genres/%s/page/%d/"

	HomeCardSelector      string
	HomeCardLinkSelector  string
	HomeCardCoverSelector string
	HomeCardTitleSelector string

	GenreCardSelector      string
	GenreCardLinkSelector  string
	GenreCardCoverSelector string
	GenreCardTitleSelector string
	GenreNextPageSelector  string

	DetailTitleSelector    string
	DetailCoverSelector    string
	DetailYearSelector     string
	DetailEpisodesSelector string

	SearchCardSelector      string
	SearchCardLinkSelector  string
	SearchCardCoverSelector string
	SearchCardTitleSelector string

	EpisodeServerSelector   string
	EpisodeServerURLAttr    string
	EpisodeServerLabelAttr  string
	EpisodeServerResolution string
}

// wordpressScraper implements Scraper against a Profile's selector layout.
type wordpressScraper struct {
	profile    Profile
	httpClient *http.Client
}

// NewWordPressScraper builds a Scraper for a provider described entirely
// by profile; no per-provider Go code is needed for a theme that follows
// the common WordPress anime-site layout.
func NewWordPressScraper(profile Profile) Scraper {
	return &wordpressScraper{
		profile:    profile,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *wordpressScraper) Name() string         { return w.profile.Name }
func (w *wordpressScraper) DomainFamily() string { return w.profile.DomainFamily }

func (w *wordpressScraper) fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (w *wordpressScraper) ScrapeDetail(ctx context.Context, slug string) (ScrapedDetail, error) {
	url := fmt.Sprintf(w.profile.DetailURLTemplate, w.profile.BaseURL, slug)
	doc, err := w.fetch(ctx, url)
	if err != nil {
		return ScrapedDetail{}, err
	}

	detail := ScrapedDetail{
		Provider: w.profile.Name,
		Slug:     slug,
		Title:    strings.TrimSpace(doc.Find(w.profile.DetailTitleSelector).First().Text()),
	}

	if cover, ok := doc.Find(w.profile.DetailCoverSelector).First().Attr("src"); ok {
		detail.CoverURL = cover
	}

	yearText := strings.TrimSpace(doc.Find(w.profile.DetailYearSelector).First().Text())
	if y, err := strconv.Atoi(extractDigits(yearText)); err == nil {
		detail.Year = y
	}

	episodesText := strings.TrimSpace(doc.Find(w.profile.DetailEpisodesSelector).First().Text())
	if e, err := strconv.Atoi(extractDigits(episodesText)); err == nil {
		detail.TotalEpisodes = e
	}

	return detail, nil
}

func (w *wordpressScraper) SearchCards(ctx context.Context, query string) ([]Card, error) {
	url := fmt.Sprintf(w.profile.SearchURLTemplate, w.profile.BaseURL, queryEscape(query))
	doc, err := w.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	return extractCards(doc, w.profile.SearchCardSelector, w.profile.SearchCardLinkSelector,
		w.profile.SearchCardCoverSelector, w.profile.SearchCardTitleSelector), nil
}

func (w *wordpressScraper) EpisodeServers(ctx context.Context, slug string, episode int) ([]EmbedServer, error) {
	url := fmt.Sprintf(w.profile.EpisodeURLTemplate, w.profile.BaseURL, slug, episode)
	doc, err := w.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var servers []EmbedServer
	doc.Find(w.profile.EpisodeServerSelector).Each(func(_ int, sel *goquery.Selection) {
		embed, ok := sel.Attr(w.profile.EpisodeServerURLAttr)
		if !ok || embed == "" {
			return
		}
		label := sel.AttrOr(w.profile.EpisodeServerLabelAttr, "server")
		resolution := sel.AttrOr(w.profile.EpisodeServerResolution, "")

		servers = append(servers, EmbedServer{
			ProviderLabel: label,
			EmbedURL:      embed,
			Resolution:    resolution,
		})
	})

	return servers, nil
}

// ScrapeHome lists the provider's current front-page cards, reusing the
// same card-extraction shape search results use.
func (w *wordpressScraper) ScrapeHome(ctx context.Context) ([]Card, error) {
	url := fmt.Sprintf(w.profile.HomeURLTemplate, w.profile.BaseURL)
	doc, err := w.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return extractCards(doc, w.profile.HomeCardSelector, w.profile.HomeCardLinkSelector,
		w.profile.HomeCardCoverSelector, w.profile.HomeCardTitleSelector), nil
}

// SearchByGenre lists one page of a genre archive.
func (w *wordpressScraper) SearchByGenre(ctx context.Context, genre string, page int) ([]Card, bool, error) {
	url := fmt.Sprintf(w.profile.GenreURLTemplate, w.profile.BaseURL, queryEscape(genre), page)
	doc, err := w.fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}

	cards := extractCards(doc, w.profile.GenreCardSelector, w.profile.GenreCardLinkSelector,
		w.profile.GenreCardCoverSelector, w.profile.GenreCardTitleSelector)
	hasNext := doc.Find(w.profile.GenreNextPageSelector).Length() > 0
	return cards, hasNext, nil
}

func extractCards(doc *goquery.Document, cardSel, linkSel, coverSel, titleSel string) []Card {
	var cards []Card
	doc.Find(cardSel).Each(func(_ int, sel *goquery.Selection) {
		link, _ := sel.Find(linkSel).First().Attr("href")
		cover, _ := sel.Find(coverSel).First().Attr("src")
		title := strings.TrimSpace(sel.Find(titleSel).First().Text())

		slug := slugFromURL(link)
		if slug == "" {
			return
		}
		cards = append(cards, Card{Slug: slug, CoverURL: cover, CardTitle: title})
	})
	return cards
}

func extractDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func slugFromURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	idx := strings.LastIndex(url, "/")
	if idx == -1 {
		return ""
	}
	return url[idx+1:]
}

func queryEscape(q string) string {
	return strings.ReplaceAll(strings.TrimSpace(q), " ", "+")
}
