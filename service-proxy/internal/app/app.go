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

	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/streamproxy"
)

// AppServer wires the stream proxy (C10) into its own binary: a single
// range-forwarding, HLS-rewriting endpoint that sits between clients and
// every ephemeral CDN / durable-storage URL the rest of the system hands
// out.
type AppServer struct {
	config  *config.Config
	handler *streamproxy.Handler
}

// NewAppServer creates a new instance of AppServer with the provided configuration.
func NewAppServer(cfg *config.Config) *AppServer {
	return &AppServer{
		config:  cfg,
		handler: streamproxy.New(cfg.Archival.ProxyBaseURL, durableHostsFrom(cfg.Storage)),
	}
}

// durableHostsFrom derives the hostnames the proxy's two-hop resolution
// should treat as durable-storage endpoints, from whichever backends are
// configured as archival targets.
func durableHostsFrom(cfg config.StorageConfig) []string {
	var hosts []string
	for _, account := range cfg.Accounts {
		switch account.Provider {
		case "minio":
			if account.MinIO.PublicEndpoint != "" {
				hosts = append(hosts, account.MinIO.PublicEndpoint)
			} else if account.MinIO.Endpoint != "" {
				hosts = append(hosts, account.MinIO.Endpoint)
			}
		case "gcs":
			hosts = append(hosts, "storage.googleapis.com")
		}
	}
	return hosts
}

func (a *AppServer) registerHandlers() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handler := gin.New()

	handler.Use(gin.Logger())
	handler.Use(gin.Recovery())

	handler.GET("/health", a.handler.Health)
	handler.GET("/proxy", a.handler.Proxy)
	handler.HEAD("/proxy", a.handler.Proxy)

	// CORS preflight on any route.
	handler.OPTIONS("/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Range")
		c.Status(http.StatusNoContent)
	})

	handler.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not Found", "message": c.Request.URL.Path + " is not a known route"})
	})

	return handler
}

// Serve starts the HTTP proxy server.
func (a *AppServer) Serve() {
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

	logger.Infof("service-proxy started on port %s", a.config.Port)

	a.gracefulShutdown(server)

	logger.Info("service-proxy shutdown complete")
}

func (a *AppServer) gracefulShutdown(server *http.Server) {
	ctx, stopCtx := context.WithCancel(context.Background())

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-signals

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
