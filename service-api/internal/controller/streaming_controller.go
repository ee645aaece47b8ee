package controller

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/enrichment"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/resolver"
)

// StreamingController serves the per-episode streaming enrichment and its
// privileged cache-invalidation endpoint.
type StreamingController struct {
	resolver *resolver.Resolver
	pipeline *enrichment.Pipeline
	salt     string
}

// NewStreamingController builds a StreamingController.
func NewStreamingController(res *resolver.Resolver, pipeline *enrichment.Pipeline, salt string) *StreamingController {
	return &StreamingController{resolver: res, pipeline: pipeline, salt: salt}
}

// GetStreaming answers GET /api/v1/streaming/:malId/:episode.
func (s *StreamingController) GetStreaming(c *gin.Context) {
	malID, err := strconv.Atoi(c.Param("malId"))
	if err != nil || malID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malId must be a positive integer"})
		return
	}

	episode, err := strconv.Atoi(c.Param("episode"))
	if err != nil || episode <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "episode must be a positive integer"})
		return
	}

	result, err := s.resolver.ResolveByMALID(c.Request.Context(), malID)
	if err != nil {
		logger.Errorf(err, "resolve mal id %d for streaming", malID)
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no mapping could be resolved for mal id " + strconv.Itoa(malID)})
		return
	}

	servers, err := s.pipeline.GetStreaming(c.Request.Context(), result.Mapping, episode)
	if err != nil {
		logger.Errorf(err, "get streaming mal=%d ep=%d", malID, episode)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"mal_id":  malID,
		"episode": episode,
		"data":    servers,
	})
}

type invalidateRequest struct {
	MALID   int    `json:"mal_id"`
	Episode int    `json:"episode"`
	Secret  string `json:"secret"`
}

// Invalidate answers POST /api/v1/streaming/invalidate, dropping the scrape
// cache entry for a (mal_id, episode) pair so a freshly archived URL appears
// on the next request.
func (s *StreamingController) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.salt)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid secret"})
		return
	}

	if req.MALID <= 0 || req.Episode <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "mal_id and episode must be positive integers"})
		return
	}

	s.pipeline.InvalidateCache(req.MALID, req.Episode)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
