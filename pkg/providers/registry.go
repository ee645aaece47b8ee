package providers

// DefaultProfiles describes the WordPress-theme layout of each provider
// named in the PROVIDERS environment setting. Selector layout is data, not
// design: these are plausible defaults for the common anime-WP theme family
// both reference providers in this system run, kept here rather than
// hand-coded per provider so adding a new site is a config change.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"animasu":    animasuProfile(),
		"samehadaku": samehadakuProfile(),
	}
}

func animasuProfile() Profile {
	return Profile{
		Name:         "animasu",
		BaseURL:      "https://animasu.cc",
		DomainFamily: "animasu.cc",

		DetailURLTemplate:  "%s/anime/%s/",
		SearchURLTemplate:  "%s/?s=%s",
		EpisodeURLTemplate: "%s/anime/%s/episode-%d/",
		HomeURLTemplate:    "%s/anime-terbaru/",
		GenreURLTemplate:   "%s/genres/%s/page/%d/",

		DetailTitleSelector:    "h1.entry-title",
		DetailCoverSelector:    ".thumb img",
		DetailYearSelector:     ".info-content .year",
		DetailEpisodesSelector: ".info-content .total-episode",

		SearchCardSelector:      ".bs",
		SearchCardLinkSelector:  "a",
		SearchCardCoverSelector: "img",
		SearchCardTitleSelector: ".tt",

		HomeCardSelector:      ".bs",
		HomeCardLinkSelector:  "a",
		HomeCardCoverSelector: "img",
		HomeCardTitleSelector: ".tt",

		GenreCardSelector:      ".bs",
		GenreCardLinkSelector:  "a",
		GenreCardCoverSelector: "img",
		GenreCardTitleSelector: ".tt",
		GenreNextPageSelector:  ".pagination .next",

		EpisodeServerSelector:   ".server-list option",
		EpisodeServerURLAttr:    "data-embed",
		EpisodeServerLabelAttr:  "data-label",
		EpisodeServerResolution: "data-resolution",
	}
}

func samehadakuProfile() Profile {
	return Profile{
		Name:         "samehadaku",
		BaseURL:      "https://samehadaku.care",
		DomainFamily: "samehadaku",

		DetailURLTemplate:  "%s/anime/%s/",
		SearchURLTemplate:  "%s/?s=%s",
		EpisodeURLTemplate: "%s/anime/%s-episode-%d/",
		HomeURLTemplate:    "%s/anime-terbaru/",
		GenreURLTemplate:   "%s/genre/%s/page/%d/",

		DetailTitleSelector:    ".infox h1.entry-title",
		DetailCoverSelector:    ".thumb img",
		DetailYearSelector:     ".infox .spe span:contains(Tahun)",
		DetailEpisodesSelector: ".infox .spe span:contains(Episode)",

		SearchCardSelector:      ".animpost",
		SearchCardLinkSelector:  "a",
		SearchCardCoverSelector: "img",
		SearchCardTitleSelector: ".title",

		HomeCardSelector:      ".animpost",
		HomeCardLinkSelector:  "a",
		HomeCardCoverSelector: "img",
		HomeCardTitleSelector: ".title",

		GenreCardSelector:      ".animpost",
		GenreCardLinkSelector:  "a",
		GenreCardCoverSelector: "img",
		GenreCardTitleSelector: ".title",
		GenreNextPageSelector:  ".pagination .next",

		EpisodeServerSelector:   "select.mirror option",
		EpisodeServerURLAttr:    "value",
		EpisodeServerLabelAttr:  "data-label",
		EpisodeServerResolution: "data-res",
	}
}

// BuildScrapers turns a list of provider names (from the PROVIDERS config
// setting) into the Scraper map the resolver and enrichment pipeline run
// against. An unknown name is skipped with no error, since the set of
// providers is allowed to shrink without redeploying every consumer.
func BuildScrapers(names []string) map[string]Scraper {
	profiles := DefaultProfiles()
	scrapers := make(map[string]Scraper, len(names))
	for _, name := range names {
		profile, ok := profiles[name]
		if !ok {
			continue
		}
		scrapers[name] = NewWordPressScraper(profile)
	}
	return scrapers
}
