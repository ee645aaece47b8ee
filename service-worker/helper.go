package helper

import (
	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/service-worker/internal/app"
)

func NewAppServer(
	cfg *config.Config,
) *app.AppServer {
	return app.NewAppServer(cfg)
}
