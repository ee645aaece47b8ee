package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/catalog"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/mapping"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/resolver"
)

// AnimeController serves the catalogue-browse and mapping-detail endpoints.
type AnimeController struct {
	resolver *resolver.Resolver
	scrapers map[string]providers.Scraper
}

// NewAnimeController builds an AnimeController.
func NewAnimeController(res *resolver.Resolver, scrapers map[string]providers.Scraper) *AnimeController {
	return &AnimeController{resolver: res, scrapers: scrapers}
}

// Home answers GET /api/v1/home: the deduplicated cross-provider feed of
// current releases.
func (a *AnimeController) Home(c *gin.Context) {
	start := time.Now()

	cards := catalog.Home(c.Request.Context(), a.scrapers)

	c.Header("X-Response-Time", time.Since(start).String())
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(cards),
		"duration": time.Since(start).String(),
		"data":     cards,
	})
}

// Search answers GET /api/v1/search?genre=<name|id>&page=<n>.
func (a *AnimeController) Search(c *gin.Context) {
	genre := c.Query("genre")
	if genre == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "genre is required"})
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "page must be a positive integer"})
			return
		}
		page = parsed
	}

	cards, hasNextPage, err := catalog.SearchByGenre(c.Request.Context(), a.scrapers, a.resolver, genre, page)
	if err != nil {
		logger.Errorf(err, "search genre %q page %d", genre, page)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"genre_id":      genre,
		"page":          page,
		"has_next_page": hasNextPage,
		"count":         len(cards),
		"data":          cards,
	})
}

// animeResponse is the shared body of GetBySlug and GetByMALID.
type animeResponse struct {
	Mapping  mapping.Mapping                      `json:"mapping"`
	MAL      mapping.MALMetadata                  `json:"mal"`
	Episodes map[string][]providers.EpisodeEntry `json:"episodes"`
}

// GetBySlug answers GET /api/v1/anime/:slug?provider=<name>.
func (a *AnimeController) GetBySlug(c *gin.Context) {
	slug := c.Param("slug")
	provider := c.Query("provider")
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "provider is required"})
		return
	}

	result, err := a.resolver.ResolveBySlug(c.Request.Context(), provider, slug)
	if err != nil {
		logger.Errorf(err, "resolve slug %s/%s", provider, slug)
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no mapping could be resolved for " + provider + "/" + slug})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cached":  result.Cached,
		"data":    buildAnimeResponse(result.Mapping),
	})
}

// GetByMALID answers GET /api/v1/anime/mal/:malId.
func (a *AnimeController) GetByMALID(c *gin.Context) {
	malID, err := strconv.Atoi(c.Param("malId"))
	if err != nil || malID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malId must be a positive integer"})
		return
	}

	result, err := a.resolver.ResolveByMALID(c.Request.Context(), malID)
	if err != nil {
		logger.Errorf(err, "resolve mal id %d", malID)
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no mapping could be resolved for mal id " + strconv.Itoa(malID)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cached":  result.Cached,
		"data":    buildAnimeResponse(result.Mapping),
	})
}

func buildAnimeResponse(m mapping.Mapping) animeResponse {
	episodes := make(map[string][]providers.EpisodeEntry)
	for provider, slug := range m.Slugs {
		if slug == "" {
			episodes[provider] = nil
			continue
		}
		episodes[provider] = episodeEntriesFor(m.MAL.Episodes)
	}
	return animeResponse{Mapping: m, MAL: m.MAL, Episodes: episodes}
}

// episodeEntriesFor builds the listing for a provider known to carry this
// mapping, one entry per episode number 1..total. The per-provider episode
// page URL is an internal scraper concern and is never re-exposed here.
func episodeEntriesFor(total int) []providers.EpisodeEntry {
	if total <= 0 {
		return []providers.EpisodeEntry{}
	}
	entries := make([]providers.EpisodeEntry, total)
	for i := 0; i < total; i++ {
		entries[i] = providers.EpisodeEntry{Episode: i + 1}
	}
	return entries
}
