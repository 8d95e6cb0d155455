package analytics

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.module",
	fx.Provide(
		NewPlanner,
		NewService,
	),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	v1 := r.Group("/api/v1")
	v1.GET("/events", s.ListEvents)
	v1.GET("/summary", s.Summary)
}
