package app

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterHandlers builds the gin engine: the catalogue browse endpoints,
// the mapping-detail endpoints, and the streaming enrichment endpoints plus
// its privileged invalidation hook.
func (a *AppServer) RegisterHandlers() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handler := gin.New()

	handler.Use(gin.Logger())
	handler.Use(gin.Recovery())
	handler.Use(cors.New(cors.Config{
		AllowOrigins: a.config.CORS.AllowedOrigins,
		AllowMethods: a.config.CORS.AllowedMethods,
		AllowHeaders: a.config.CORS.AllowedHeaders,
	}))

	descriptor := gin.H{"success": true, "service": "anisource-api", "status": "ok"}
	handler.GET("/", func(c *gin.Context) { c.JSON(http.StatusOK, descriptor) })
	handler.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, descriptor) })

	handler.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not Found", "message": c.Request.URL.Path + " is not a known route"})
	})

	api := handler.Group("/api/v1")
	{
		api.GET("/home", a.animeController.Home)
		api.GET("/search", a.animeController.Search)
		api.GET("/anime/mal/:malId", a.animeController.GetByMALID)
		api.GET("/anime/:slug", a.animeController.GetBySlug)

		streaming := api.Group("/streaming")
		{
			streaming.GET("/:malId/:episode", a.streamingController.GetStreaming)
			streaming.POST("/invalidate", a.streamingController.Invalidate)
		}
	}

	return handler
}
