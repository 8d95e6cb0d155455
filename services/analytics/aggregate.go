package analytics

import (
	"context"
	"sort"

	"linktrace/services/tracking"

	"github.com/samber/lo"
)

// Summarize aggregates all facts matching the filter by source attribution.
// Pagination does not apply; the filter's time and url bounds do.
func (p *Planner) Summarize(ctx context.Context, f Filter) ([]SummaryGroup, error) {
	facts, err := p.fetch(ctx, f)
	if err != nil {
		return nil, err
	}

	grouped := lo.GroupBy(facts, func(fact tracking.TrackingFact) string {
		if fact.SourceAttribution == "" {
			return UnattributedGroup
		}
		return fact.SourceAttribution
	})

	groups := make([]SummaryGroup, 0, len(grouped))
	for name, members := range grouped {
		ips := lo.Uniq(lo.Map(members, func(fact tracking.TrackingFact, _ int) string {
			return fact.ClientIP
		}))
		destinations := lo.Uniq(lo.Map(members, func(fact tracking.TrackingFact, _ int) string {
			return fact.DestinationURL
		}))
		sort.Strings(destinations)

		groups = append(groups, SummaryGroup{
			SourceAttribution: name,
			Count:             len(members),
			UniqueIPs:         len(ips),
			Destinations:      destinations,
		})
	}

	// Busiest attribution first; name breaks ties so output is stable.
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].SourceAttribution < groups[j].SourceAttribution
	})

	return groups, nil
}
