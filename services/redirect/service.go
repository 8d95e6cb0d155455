package redirect

import (
	"net/http"
	"net/url"

	"linktrace/pkg/config"
	"linktrace/pkg/errutil"
	"linktrace/services/tracking"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/fx"
)

// Service is the boundary of the pipeline: validate the target, hand the
// event to the producer, redirect. Tracking never delays or fails the
// redirect.
type Service struct {
	producer     *tracking.Producer
	allowedHosts []string
}

type ServiceParams struct {
	fx.In

	Producer *tracking.Producer
	Config   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		producer:     p.Producer,
		allowedHosts: p.Config.Tracking.AllowedHosts,
	}
}

// Redirect handles GET /r?url=...&src=...
func (s *Service) Redirect(c *gin.Context) {
	dest, err := s.validateTarget(c.Query("url"))
	if err != nil {
		c.Error(err)
		return
	}

	src := c.Query("src")
	if src != "" && !tracking.AttributionPattern.MatchString(src) {
		c.Error(errutil.Validation("src has invalid format", nil))
		return
	}

	trackingID := s.producer.Track(dest.String(), c.ClientIP(), src)
	c.Header("X-Tracking-ID", trackingID)
	c.Redirect(http.StatusFound, dest.String())
}

// validateTarget accepts absolute http(s) URLs, constrained to the host
// allow-list when one is configured. An open redirector is the failure mode
// being guarded against.
func (s *Service) validateTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errutil.Validation("url is required", nil)
	}

	dest, err := url.Parse(raw)
	if err != nil {
		return nil, errutil.Validation("url is not a valid URL", err)
	}
	if dest.Scheme != "http" && dest.Scheme != "https" {
		return nil, errutil.Validation("url must be absolute http or https", nil)
	}
	if dest.Host == "" {
		return nil, errutil.Validation("url must have a host", nil)
	}
	if len(s.allowedHosts) > 0 && !lo.Contains(s.allowedHosts, dest.Hostname()) {
		return nil, errutil.Validation("url host is not allowed", nil)
	}

	return dest, nil
}
