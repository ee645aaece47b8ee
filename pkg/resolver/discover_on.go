package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/kurobara/anisource/pkg/malclient"
	"github.com/kurobara/anisource/pkg/phash"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/titlenorm"
)

// DiscoverResult is what discoverOn found for a mal candidate on one
// provider: the slug it is known by there, and, if a cover was hashed
// along the way, that hash.
type DiscoverResult struct {
	Slug  string
	PHash string
}

// cardGateLimit bounds how many search cards get scraped per query. A
// query that returns more than this many cards is too generic to trust
// without a stronger signal (hash or an already-known title), unless the
// provider is flagged to skip gating because it tends to return small,
// already-specific result sets.
const cardGateLimit = 8

var seasonMarkerRe = regexp.MustCompile(`(?i)\b(season|cour|part)\s*\d+\b|\b\d+(st|nd|rd|th)\s*season\b|\bS\d+\b`)

var separatorRe = regexp.MustCompile(`\s*[:\-]\s*`)

// discoverOn looks for mal on a single provider, trying in order: the
// provider's search index (gated by card count, narrowed by hash or
// metadata match), then a handful of slug-derivation guesses scraped
// directly.
func (r *Resolver) discoverOn(ctx context.Context, providerName string, scraper providers.Scraper, mal malclient.Anime, knownHash string) (DiscoverResult, bool) {
	for _, query := range buildProviderQueries(mal) {
		cards, err := scraper.SearchCards(ctx, query)
		if err != nil || len(cards) == 0 {
			continue
		}

		skipGate := providerSkipsCardGating(providerName)
		if len(cards) > cardGateLimit && !skipGate {
			continue
		}

		if result, ok := r.matchCards(ctx, scraper, mal, knownHash, cards, skipGate); ok {
			return result, true
		}
	}

	return r.matchDirectSlug(ctx, scraper, mal)
}

// cardTitleSimilarity is the minimum card_title similarity, against any of
// mal's title variants, a search card must clear before its detail page is
// even worth scraping. Providers flagged by providerSkipsCardGating return
// result sets already specific enough that this pre-filter would only risk
// dropping a real match whose card title is truncated or stylised.
const cardTitleSimilarity = 0.85

// matchCards scrapes each candidate card's detail page and accepts the
// first one that clears either the hash path (its cover's perceptual hash
// is close to knownHash) or the metadata path (its cover belongs to the
// provider's domain family and its title/episode count line up with mal).
// Unless skipGate, a card is skipped outright when its card_title isn't
// close to any of mal's title variants.
func (r *Resolver) matchCards(ctx context.Context, scraper providers.Scraper, mal malclient.Anime, knownHash string, cards []providers.Card, skipGate bool) (DiscoverResult, bool) {
	for _, card := range cards {
		if !skipGate && !cardTitleMatches(mal, card.CardTitle) {
			continue
		}

		detail, err := scraper.ScrapeDetail(ctx, card.Slug)
		if err != nil {
			continue
		}

		coverHash, hasHash := r.coverHash(ctx, detail.CoverURL, scraper.DomainFamily())

		if knownHash != "" && hasHash {
			if d := phash.Hamming(knownHash, coverHash); d >= 0 && d < r.cfg.PHashHammingThreshold {
				return DiscoverResult{Slug: card.Slug, PHash: coverHash}, true
			}
		}

		if r.metadataMatches(mal, detail, scraper.DomainFamily()) {
			return DiscoverResult{Slug: card.Slug, PHash: coverHash}, true
		}
	}
	return DiscoverResult{}, false
}

// cardTitleMatches reports whether card's title is close enough to any of
// mal's known title variants to be worth opening the detail page for.
func cardTitleMatches(mal malclient.Anime, cardTitle string) bool {
	if cardTitle == "" {
		return false
	}
	normCard := titlenorm.NormaliseSeason(cardTitle)
	for _, title := range mal.AllTitles() {
		if titlenorm.Similarity(normCard, titlenorm.NormaliseSeason(title)) >= cardTitleSimilarity {
			return true
		}
	}
	return false
}

// metadataMatches requires a valid cover hostname, a title relationship
// (close similarity, or one title being a prefix of the other after
// season-marker normalisation), and an episode-count/year check. Both year
// and episode count being unknown on one side is not enough on its own to
// confirm a match, so that case is rejected rather than trusted.
func (r *Resolver) metadataMatches(mal malclient.Anime, detail providers.ScrapedDetail, domainFamily string) bool {
	if detail.CoverURL == "" || !strings.Contains(detail.CoverURL, domainFamily) {
		return false
	}

	if detail.Year == 0 && detail.TotalEpisodes == 0 {
		return false
	}

	normMAL := titlenorm.NormaliseSeason(mal.Title)
	normDetail := titlenorm.NormaliseSeason(detail.Title)

	titleOK := titlenorm.Similarity(normMAL, normDetail) >= r.cfg.TitleSimilarity ||
		strings.HasPrefix(normDetail, normMAL) || strings.HasPrefix(normMAL, normDetail)
	if !titleOK {
		return false
	}

	if !yearWithinOne(mal.Year, detail.Year) {
		return false
	}
	return malclient.ValidateMetadata(mal, detail.TotalEpisodes, r.cfg.EpisodeTolerance)
}

// matchDirectSlug is the last resort when search turned up nothing: try
// scraping a handful of slugs derived mechanically from mal's title. A
// title-only match (no metadata to cross-check) is only trusted when mal's
// title carries no season marker, since a bare slug guess for "Title" is
// otherwise as likely to land on the wrong season as the right one.
func (r *Resolver) matchDirectSlug(ctx context.Context, scraper providers.Scraper, mal malclient.Anime) (DiscoverResult, bool) {
	hasSeasonMarker := seasonMarkerRe.MatchString(mal.Title)

	for _, slug := range candidateSlugs(mal.Title, mal.Year) {
		detail, err := scraper.ScrapeDetail(ctx, slug)
		if err != nil {
			continue
		}

		if r.metadataMatches(mal, detail, scraper.DomainFamily()) {
			hash, _ := r.coverHash(ctx, detail.CoverURL, scraper.DomainFamily())
			return DiscoverResult{Slug: slug, PHash: hash}, true
		}

		if !hasSeasonMarker {
			normTitle := titlenorm.NormaliseSeason(mal.Title)
			normDetail := titlenorm.NormaliseSeason(detail.Title)
			if titlenorm.Similarity(normTitle, normDetail) >= r.cfg.TitleSimilarity {
				hash, _ := r.coverHash(ctx, detail.CoverURL, scraper.DomainFamily())
				return DiscoverResult{Slug: slug, PHash: hash}, true
			}
		}
	}

	return DiscoverResult{}, false
}

// providerSkipsCardGating names providers whose search endpoint already
// returns a small, specific result set, so a large card count there isn't
// a sign of an overly generic query the way it is elsewhere.
func providerSkipsCardGating(providerName string) bool {
	switch providerName {
	case "samehadaku":
		return true
	default:
		return false
	}
}

// buildProviderQueries returns an ordered, deduplicated list of search
// queries derived from mal's known titles: each title in full, its
// pre-colon/pre-dash prefix (light-novel-style subtitles are often dropped
// by providers), its season/cour/part-stripped base form, and its first
// three words when that prefix is long enough to be specific.
func buildProviderQueries(mal malclient.Anime) []string {
	seen := map[string]bool{}
	var queries []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q != "" && !seen[q] {
			seen[q] = true
			queries = append(queries, q)
		}
	}

	for _, title := range mal.AllTitles() {
		add(title)

		if parts := separatorRe.Split(title, 2); len(parts) == 2 {
			add(parts[0])
		}

		add(titlenorm.NormaliseSeason(title))

		words := strings.Fields(title)
		if len(words) >= 3 {
			prefix := strings.Join(words[:3], " ")
			if len(prefix) >= 8 {
				add(prefix)
			}
		}
	}

	return queries
}

// lnSeparatorRe matches the light-novel-style subtitle separators common in
// Japanese-to-English titles ("... to ...", "... node ...", etc), so the
// part before them can be tried as a slug base on its own.
var lnSeparatorRe = regexp.MustCompile(`(?i)\s+(to|node|ga|de|ni|wo)\s+`)

// seasonNumberRe captures the season number out of any of the markers
// seasonMarkerRe only detects the presence of.
var seasonNumberRe = regexp.MustCompile(`(?i)\b(?:season\s*(\d+)|(\d+)(?:st|nd|rd|th)\s*season|cour\s*(\d+)|part\s*(\d+)|S(\d+)\b)`)

// candidateSlugs derives the set of plausible provider slugs this package's
// direct-slug fallback tries for title: the canonical slug, the canonical
// slug cut at a colon/dash or at a light-novel-style separator word, the
// season-normalised slug, season-number-specific forms ("-season-N",
// "-Nth-season", "-part-N", "-sN") when the title carries a season number,
// and, when year is known, the canonical and full-title slugs suffixed with
// it.
func candidateSlugs(title string, year int) []string {
	seen := map[string]bool{}
	var slugs []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			slugs = append(slugs, s)
		}
	}

	full := titlenorm.CanonicalSlug(title)
	add(full)

	base := full
	if parts := separatorRe.Split(title, 2); len(parts) == 2 {
		base = titlenorm.CanonicalSlug(parts[0])
		add(base)
	}

	if parts := lnSeparatorRe.Split(title, 2); len(parts) == 2 {
		add(titlenorm.CanonicalSlug(parts[0]))
	}

	normalisedSeason := titlenorm.NormaliseSeason(title)
	add(titlenorm.CanonicalSlug(normalisedSeason))

	if m := seasonNumberRe.FindStringSubmatch(title); m != nil {
		var n string
		for _, g := range m[1:] {
			if g != "" {
				n = g
				break
			}
		}
		if n != "" {
			stripped := seasonNumberRe.ReplaceAllString(title, "")
			seasonBase := titlenorm.CanonicalSlug(stripped)
			if seasonBase != "" {
				add(seasonBase + "-season-" + n)
				add(seasonBase + "-" + n + ordinalSuffix(n) + "-season")
				add(seasonBase + "-part-" + n)
				add(seasonBase + "-s" + n)
			}
		}
	}

	if year > 0 {
		yearStr := strconv.Itoa(year)
		add(base + "-" + yearStr)
		add(full + "-" + yearStr)
	}

	return slugs
}

// ordinalSuffix returns the English ordinal suffix for a base-10 digit
// string such as "1" -> "st", "2" -> "nd", "4" -> "th".
func ordinalSuffix(n string) string {
	if len(n) == 0 {
		return "th"
	}
	if len(n) >= 2 && n[len(n)-2] == '1' {
		return "th"
	}
	switch n[len(n)-1] {
	case '1':
		return "st"
	case '2':
		return "nd"
	case '3':
		return "rd"
	default:
		return "th"
	}
}
