package analytics

import (
	"net/http"

	"linktrace/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// Service exposes the read API over the planner.
type Service struct {
	planner *Planner
	cfg     config.Analytics
}

type ServiceParams struct {
	fx.In

	Planner *Planner
	Config  *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{planner: p.Planner, cfg: p.Config.Analytics}
}

func (s *Service) filterFromRequest(c *gin.Context) (Filter, error) {
	params := FilterParams{
		StartDate:         c.Query("start_date"),
		EndDate:           c.Query("end_date"),
		SourceAttribution: c.Query("source_attribution"),
		DestinationURL:    c.Query("destination_url"),
		Limit:             c.Query("limit"),
		Offset:            c.Query("offset"),
		SortOrder:         c.Query("sort_order"),
	}
	return params.Parse(s.cfg)
}

// ListEvents handles GET /api/v1/events.
func (s *Service) ListEvents(c *gin.Context) {
	filter, err := s.filterFromRequest(c)
	if err != nil {
		c.Error(err)
		return
	}

	page, err := s.planner.Query(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// Summary handles GET /api/v1/summary.
func (s *Service) Summary(c *gin.Context) {
	filter, err := s.filterFromRequest(c)
	if err != nil {
		c.Error(err)
		return
	}

	groups, err := s.planner.Summarize(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}
