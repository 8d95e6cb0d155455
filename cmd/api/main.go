package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"linktrace/pkg/config"
	"linktrace/pkg/db"
	"linktrace/pkg/health"
	"linktrace/pkg/httpapi"
	"linktrace/pkg/logger"
	"linktrace/pkg/redis"
	"linktrace/pkg/server"
	"linktrace/pkg/task"
	"linktrace/services/analytics"
	"linktrace/services/redirect"
	"linktrace/services/tracking"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		health.Module,
		httpapi.Module,
		tracking.Module,
		redirect.Module,
		analytics.Module,
		server.ProvideHTTPServer,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
