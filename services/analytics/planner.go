package analytics

import (
	"context"
	"sort"

	"linktrace/pkg/errutil"
	"linktrace/services/tracking"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Strategy names the access path chosen for a filter. Exactly one applies.
type Strategy int

const (
	// StrategyAttribution drives the composite (source_attribution, timestamp)
	// index; cheapest when an attribution is given.
	StrategyAttribution Strategy = iota
	// StrategyTimeBucket drives the formatted_timestamp index when only time
	// bounds are given.
	StrategyTimeBucket
	// StrategyScan is the fallback full scan with whatever filters the store
	// can still push down.
	StrategyScan
)

func (s Strategy) String() string {
	switch s {
	case StrategyAttribution:
		return "attribution"
	case StrategyTimeBucket:
		return "time_bucket"
	default:
		return "scan"
	}
}

// PlanStrategy selects the access path for a filter. Pure; the precedence is
// attribution index over time index over scan.
func PlanStrategy(f Filter) Strategy {
	if f.SourceAttribution != "" {
		return StrategyAttribution
	}
	if !f.StartDate.IsZero() || !f.EndDate.IsZero() {
		return StrategyTimeBucket
	}
	return StrategyScan
}

// Planner executes analytics queries against the fact table.
type Planner struct {
	db *gorm.DB
}

func NewPlanner(db *gorm.DB) *Planner {
	return &Planner{db: db}
}

// Query returns one page of facts matching the filter, newest first unless
// asked otherwise.
func (p *Planner) Query(ctx context.Context, f Filter) (EventPage, error) {
	facts, err := p.fetch(ctx, f)
	if err != nil {
		return EventPage{}, err
	}

	sortFacts(facts, f.SortOrder)

	total := len(facts)
	page := paginate(facts, f.Offset, f.Limit)

	return EventPage{
		Events:     page,
		TotalCount: total,
		Limit:      f.Limit,
		Offset:     f.Offset,
		HasMore:    f.Offset+len(page) < total,
	}, nil
}

// fetch runs the planned access path and re-applies in memory whatever the
// path could not express.
func (p *Planner) fetch(ctx context.Context, f Filter) ([]tracking.TrackingFact, error) {
	strategy := PlanStrategy(f)
	q := p.db.WithContext(ctx).Model(&tracking.TrackingFact{})

	switch strategy {
	case StrategyAttribution:
		q = q.Where("source_attribution = ?", f.SourceAttribution)
		if !f.StartDate.IsZero() {
			q = q.Where("timestamp >= ?", f.StartDate)
		}
		if !f.EndDate.IsZero() {
			q = q.Where("timestamp <= ?", f.EndDate)
		}
	case StrategyTimeBucket:
		if !f.StartDate.IsZero() {
			q = q.Where("formatted_timestamp >= ?", tracking.FormatBucket(f.StartDate))
		}
		if !f.EndDate.IsZero() {
			q = q.Where("formatted_timestamp <= ?", tracking.FormatBucket(f.EndDate))
		}
	case StrategyScan:
		if f.DestinationURL != "" {
			q = q.Where("destination_url = ?", f.DestinationURL)
		}
	}

	var facts []tracking.TrackingFact
	if err := q.Find(&facts).Error; err != nil {
		return nil, errutil.ClassifyStore("analytics query failed", err)
	}

	// destination_url is not covered by either index; residual filter.
	if strategy != StrategyScan && f.DestinationURL != "" {
		filtered := facts[:0]
		for _, fact := range facts {
			if fact.DestinationURL == f.DestinationURL {
				filtered = append(filtered, fact)
			}
		}
		facts = filtered
	}

	zap.L().Debug("analytics fetch",
		zap.String("strategy", strategy.String()),
		zap.Int("matched", len(facts)),
	)

	return facts, nil
}

// sortFacts orders by event time, tracking id as the deterministic tiebreak.
func sortFacts(facts []tracking.TrackingFact, order string) {
	asc := order == "asc"
	sort.SliceStable(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if asc {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if asc {
			return a.TrackingID < b.TrackingID
		}
		return a.TrackingID > b.TrackingID
	})
}

func paginate(facts []tracking.TrackingFact, offset, limit int) []tracking.TrackingFact {
	if offset >= len(facts) {
		return []tracking.TrackingFact{}
	}
	end := offset + limit
	if end > len(facts) {
		end = len(facts)
	}
	return facts[offset:end]
}
