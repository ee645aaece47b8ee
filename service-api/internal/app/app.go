package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/database"
	"github.com/kurobara/anisource/pkg/hostresolver"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/malclient"
	"github.com/kurobara/anisource/pkg/mapping"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/queue"
	redisclient "github.com/kurobara/anisource/pkg/redis"
	"github.com/kurobara/anisource/pkg/resolver"
	"github.com/kurobara/anisource/pkg/enrichment"

	ctl "github.com/kurobara/anisource/service-api/internal/controller"
)

// AppServer wires every C1-C7 collaborator into the HTTP API binary: the
// catalogue browse endpoints, the mapping resolver, and the streaming
// enrichment pipeline.
type AppServer struct {
	config              *config.Config
	animeController     *ctl.AnimeController
	streamingController *ctl.StreamingController
	redisClient         *redisclient.Client
}

// NewAppServer creates a new instance of AppServer with the provided configuration.
func NewAppServer(cfg *config.Config) *AppServer {
	db, err := database.NewPgDB(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	// Redis backs the MAL client's secondary candidate cache; its absence is
	// not fatal since Client.Cache is optional and the resolver still works
	// without it, just re-querying Jikan more often.
	var malCache malclient.Cache
	redisClient, err := redisclient.NewClient(cfg)
	if err != nil {
		logger.Warnf("redis unavailable, MAL candidate cache disabled: %v", err)
	} else {
		malCache = malclient.NewRedisCache(redisClient)
	}

	mappingStore := mapping.NewStore(db)
	queueStore := queue.NewStore(db)

	malClient := malclient.New(cfg.MAL.BaseURL, time.Duration(cfg.MAL.ThrottleMillis)*time.Millisecond, cfg.MAL.RequestTimeout, malCache)

	scrapers := providers.BuildScrapers(cfg.Providers)
	dispatcher := hostresolver.NewDispatcher()

	res := resolver.New(mappingStore, malClient, scrapers, resolver.Config{
		PHashHammingThreshold: cfg.Matching.PHashHammingThreshold,
		TitleSimilarity:       cfg.Matching.TitleSimilarity,
		EpisodeTolerance:      cfg.Matching.EpisodeTolerance,
	})

	pipeline := enrichment.New(mappingStore, queueStore, scrapers, dispatcher, enrichment.Config{
		Salt:             cfg.Archival.Salt,
		ProxyBaseURL:     cfg.Archival.ProxyBaseURL,
		WorkerTriggerURL: cfg.Archival.WorkerBaseURL + "/trigger",
		WebhookTimeout:   cfg.Archival.WebhookTimeout,
		ScrapeCacheTTL:   cfg.Matching.ScrapeCacheTTL,
	})

	return &AppServer{
		config:              cfg,
		animeController:     ctl.NewAnimeController(res, scrapers),
		streamingController: ctl.NewStreamingController(res, pipeline, cfg.Archival.Salt),
		redisClient:         redisClient,
	}
}

func (a *AppServer) Serve() {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", a.config.Port),
		Handler: a.RegisterHandlers(),
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	logger.Infof("service-api started on port %s", a.config.Port)

	a.gracefulShutdown(server)

	logger.Info("service-api shutdown complete")
}

func (a *AppServer) gracefulShutdown(server *http.Server) {
	ctx, stopCtx := context.WithCancel(context.Background())

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-signals

		if a.redisClient != nil {
			a.redisClient.Close()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "server shutdown error")
		} else {
			logger.Info("server graceful shutdown")
		}

		stopCtx()
	}()

	<-ctx.Done()
}
