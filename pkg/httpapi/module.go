package httpapi

import (
	"linktrace/pkg/config"
	"linktrace/pkg/health"
	"linktrace/pkg/logger"
	"linktrace/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoints),
)

type EngineParams struct {
	fx.In

	Config *config.Config
	Warm   *logger.WarmState
}

// NewEngine builds the shared gin engine: recovery, request logging, per-IP
// rate limiting, and the error-translating middleware that turns classified
// errors into responses.
func NewEngine(p EngineParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: p.Config.Tracking.RateLimitRPS,
		BurstSize:         p.Config.Tracking.RateLimitBurst,
		CleanupInterval:   middleware.DefaultRateLimiterConfig.CleanupInterval,
	})

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLog(p.Warm),
		limiter.Middleware(),
		middleware.Error(),
	)

	return r
}

func registerHealthEndpoints(r *gin.Engine, hs health.HealthService) {
	r.GET("/healthz", hs.Liveness)
	r.GET("/readyz", hs.Readiness)
}
