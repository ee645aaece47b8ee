package main

import (
	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/service-api/internal/app"
)

func main() {
	// Initialize configuration
	cfg := config.NewConfig()

	// Initialize logger
	logger.InitLogger(cfg)

	// Create and start the application server
	server := app.NewAppServer(cfg)
	server.Serve()
}
