package analytics

import (
	"strconv"
	"time"

	"linktrace/pkg/config"
	"linktrace/pkg/errutil"
	"linktrace/services/tracking"
)

// UnattributedGroup collects facts with no source attribution in summaries.
const UnattributedGroup = "unattributed"

const dateOnlyLayout = "2006-01-02"

// FilterParams carries the raw query-string values before validation.
type FilterParams struct {
	StartDate         string
	EndDate           string
	SourceAttribution string
	DestinationURL    string
	Limit             string
	Offset            string
	SortOrder         string
}

// Filter is a validated query. Zero time bounds mean unbounded.
type Filter struct {
	StartDate         time.Time
	EndDate           time.Time
	SourceAttribution string
	DestinationURL    string
	Limit             int
	Offset            int
	SortOrder         string
}

// Parse validates the raw parameters against the configured bounds. Every
// violation is a validation error: rejected before any store access, never
// retried.
func (p FilterParams) Parse(cfg config.Analytics) (Filter, error) {
	f := Filter{
		SourceAttribution: p.SourceAttribution,
		DestinationURL:    p.DestinationURL,
		Limit:             cfg.DefaultLimit,
		SortOrder:         "desc",
	}

	if p.SourceAttribution != "" && !tracking.AttributionPattern.MatchString(p.SourceAttribution) {
		return Filter{}, errutil.Validation("source_attribution has invalid format", nil)
	}

	var err error
	if p.StartDate != "" {
		if f.StartDate, err = parseDate(p.StartDate, false); err != nil {
			return Filter{}, errutil.Validation("start_date must be an ISO 8601 date", err)
		}
	}
	if p.EndDate != "" {
		if f.EndDate, err = parseDate(p.EndDate, true); err != nil {
			return Filter{}, errutil.Validation("end_date must be an ISO 8601 date", err)
		}
	}
	if !f.StartDate.IsZero() && !f.EndDate.IsZero() && f.EndDate.Before(f.StartDate) {
		return Filter{}, errutil.Validation("end_date must not precede start_date", nil)
	}

	if p.Limit != "" {
		n, err := strconv.Atoi(p.Limit)
		if err != nil || n < 1 || n > cfg.MaxLimit {
			return Filter{}, errutil.Validation("limit must be between 1 and "+strconv.Itoa(cfg.MaxLimit), err)
		}
		f.Limit = n
	}
	if p.Offset != "" {
		n, err := strconv.Atoi(p.Offset)
		if err != nil || n < 0 {
			return Filter{}, errutil.Validation("offset must be a non-negative integer", err)
		}
		f.Offset = n
	}

	switch p.SortOrder {
	case "", "desc":
	case "asc":
		f.SortOrder = "asc"
	default:
		return Filter{}, errutil.Validation("sort_order must be asc or desc", nil)
	}

	return f, nil
}

// parseDate accepts RFC 3339 instants and bare dates. A bare end date is
// widened to the end of that day so the bound stays inclusive.
func parseDate(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnlyLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t.UTC(), nil
}

// EventPage is the paginated query response.
type EventPage struct {
	Events     []tracking.TrackingFact `json:"events"`
	TotalCount int                     `json:"total_count"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	HasMore    bool                    `json:"has_more"`
}

// SummaryGroup is one attribution bucket of the aggregation response.
type SummaryGroup struct {
	SourceAttribution string   `json:"source_attribution"`
	Count             int      `json:"count"`
	UniqueIPs         int      `json:"unique_ips"`
	Destinations      []string `json:"destinations"`
}
