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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/archivalworker"
	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/database"
	"github.com/kurobara/anisource/pkg/hostresolver"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/queue"
	"github.com/kurobara/anisource/pkg/storage"

	ctl "github.com/kurobara/anisource/service-worker/internal/controller"
)

// AppServer wires the archival queue (C8) and archival worker (C9) into the
// worker binary: a background poll loop draining the queue, and the
// /trigger webhook the API's enrichment pipeline calls on enqueue.
type AppServer struct {
	config     *config.Config
	controller *ctl.WorkerController
	worker     *archivalworker.Worker
	cancelRun  context.CancelFunc
}

// NewAppServer creates a new instance of AppServer with the provided configuration.
func NewAppServer(cfg *config.Config) *AppServer {
	db, err := database.NewPgDB(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	ctx := context.Background()
	targets, err := storage.NewTargets(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("failed to initialize storage targets: %v", err)
	}

	queueStore := queue.NewStore(db)
	dispatcher := hostresolver.NewDispatcher()

	worker := archivalworker.New(queueStore, targets, dispatcher, archivalworker.Config{
		Salt:           cfg.Archival.Salt,
		Namespace:      cfg.Storage.Namespace,
		PollInterval:   cfg.Archival.PollInterval,
		ClaimBatch:     cfg.Archival.ClaimBatch,
		Concurrency:    int64(cfg.Archival.WorkerConcurrency),
		WebhookTimeout: cfg.Archival.WebhookTimeout,
		InvalidateURL:  cfg.Archival.APIBaseURL + "/api/v1/streaming/invalidate",
	})

	return &AppServer{
		config:     cfg,
		controller: ctl.NewWorkerController(worker, cfg.Archival.Salt),
		worker:     worker,
	}
}

func (a *AppServer) registerHandlers() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handler := gin.New()

	handler.Use(gin.Logger())
	handler.Use(gin.Recovery())
	handler.Use(cors.New(cors.Config{
		AllowOrigins: a.config.CORS.AllowedOrigins,
		AllowMethods: a.config.CORS.AllowedMethods,
		AllowHeaders: a.config.CORS.AllowedHeaders,
	}))

	handler.GET("/health", a.controller.Health)
	handler.GET("/status", a.controller.Status)
	handler.POST("/trigger", a.controller.Trigger)

	return handler
}

// Serve starts the background poll loop and the HTTP trigger/status server.
func (a *AppServer) Serve() {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	go a.worker.Run(runCtx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", a.config.Port),
		Handler: a.registerHandlers(),
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	logger.Infof("service-worker started on port %s", a.config.Port)

	a.gracefulShutdown(server)

	logger.Info("service-worker shutdown complete")
}

func (a *AppServer) gracefulShutdown(server *http.Server) {
	ctx, stopCtx := context.WithCancel(context.Background())

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-signals

		a.cancelRun()

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
