package helper

import (
	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/service-api/internal/app"
)

func NewAppServer(
	cfg *config.Config,
) *app.AppServer {
	return app.NewAppServer(cfg)
}
