package main

import (
	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/service-proxy/internal/app"
)

func main() {
	// initialize configuration
	cfg := config.NewConfig()

	// initialize logger
	logger.InitLogger(cfg)

	// create and start the stream proxy server
	server := app.NewAppServer(cfg)
	server.Serve()
}
