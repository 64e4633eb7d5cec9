// Package preagg implements the pre-aggregation matcher and optimizer:
// scoring a query against a cube's declared rollups and substituting the
// cheapest matching one in for the query's source.
package preagg

import (
	"fmt"
	"sort"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// granularitySeconds orders the supported rollup granularities so
// divisibility ("g_p divides g_q") and fineness comparisons are well
// defined. Calendar-irregular units (month/quarter/year) are given
// representative second counts (30, 90 and 360 days) chosen so that day,
// month and quarter divide year evenly while week divides none of them.
var granularitySeconds = map[string]int{
	"second":  1,
	"minute":  60,
	"hour":    3600,
	"day":     86400,
	"week":    7 * 86400,
	"month":   30 * 86400,
	"quarter": 90 * 86400,
	"year":    360 * 86400,
}

// divides reports whether g_p (the pre-aggregation's stored granularity)
// evenly rolls up into g_q (the query's requested granularity).
func divides(gp, gq string) bool {
	sp, okp := granularitySeconds[gp]
	sq, okq := granularitySeconds[gq]
	if !okp || !okq {
		return gp == gq
	}
	if sp > sq {
		return false
	}
	return sq%sp == 0
}

// Candidate is a scored pre-aggregation match.
type Candidate struct {
	PreAggregation schema.PreAggregation
	NumDimensions  int
	FinestGranularitySeconds int
}

// Match selects the best pre-aggregation for q among cube's declared
// rollups, given the full set of member full names referenced anywhere in
// q's filter tree (for filters_ok). It returns a *cerr.PreAggregationMismatch,
// an internal, swallowed error, when nothing matches; callers fall
// through to the unmodified Query rather than surfacing this to the user.
func Match(q plan.Query, cube *schema.Cube, filterSymbols []string) (*plan.PreAggregation, *schema.PreAggregation, error) {
	var candidates []Candidate
	var lastReason error

	for _, p := range cube.PreAggregations {
		if p.Type != schema.PreAggRollup && p.Type != schema.PreAggRollupJoin {
			continue
		}
		if !coveredBy(q.Measures, p.Measures) {
			lastReason = cerr.NewPreAggregationMismatch(p.ID(), "measures not covered")
			continue
		}
		if !coveredBy(q.Dimensions, p.Dimensions) {
			lastReason = cerr.NewPreAggregationMismatch(p.ID(), "dimensions not covered")
			continue
		}
		if !timeDimOk(q.TimeDimensions, p.TimeDimensions) {
			lastReason = cerr.NewPreAggregationMismatch(p.ID(), "time dimension granularity not compatible")
			continue
		}
		covered := append(append([]string{}, p.Measures...), p.Dimensions...)
		for _, td := range p.TimeDimensions {
			covered = append(covered, td.Dimension)
		}
		if !coveredBy(filterSymbols, covered) {
			lastReason = cerr.NewPreAggregationMismatch(p.ID(), "filter references a member outside the pre-aggregation")
			continue
		}
		if !dateRangeOk(q.TimeDimensions, p) {
			lastReason = cerr.NewPreAggregationMismatch(p.ID(), "date range does not align to pre-aggregation boundaries")
			continue
		}

		finest := 0
		for _, td := range p.TimeDimensions {
			if s, ok := granularitySeconds[td.Granularity]; ok && (finest == 0 || s < finest) {
				finest = s
			}
		}
		candidates = append(candidates, Candidate{PreAggregation: p, NumDimensions: len(p.Dimensions), FinestGranularitySeconds: finest})
	}

	if len(candidates) == 0 {
		if lastReason == nil {
			lastReason = cerr.NewPreAggregationMismatch(cube.Name, "no rollup pre-aggregations declared")
		}
		return nil, nil, lastReason
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.NumDimensions != b.NumDimensions {
			return a.NumDimensions < b.NumDimensions
		}
		if a.FinestGranularitySeconds != b.FinestGranularitySeconds {
			return a.FinestGranularitySeconds < b.FinestGranularitySeconds
		}
		return a.PreAggregation.Name < b.PreAggregation.Name
	})

	best := candidates[0].PreAggregation
	node := plan.PreAggregation{
		TableName:      tableName(best),
		PreAggregation: best.ID(),
	}
	return &node, &best, nil
}

// coveredBy reports whether every element of want appears in have.
func coveredBy(want, have []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func timeDimOk(query []plan.TimeDimensionSelection, stored []schema.TimeDimensionRef) bool {
	for _, q := range query {
		ok := false
		for _, p := range stored {
			if p.Dimension == q.Dimension && divides(p.Granularity, q.Granularity) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// dateRangeOk is deliberately conservative:
// a query time dimension with no explicit date range is trivially aligned;
// one that does specify a range is only accepted when the pre-aggregation
// declares allow_non_strict_date_range_match, since verifying true boundary
// alignment would require evaluating the range against partition
// boundaries that are not modeled here.
func dateRangeOk(query []plan.TimeDimensionSelection, p schema.PreAggregation) bool {
	for _, q := range query {
		if q.DateRangeFrom == "" && q.DateRangeTo == "" {
			continue
		}
		if !p.AllowNonStrictDateRangeMatch {
			return false
		}
	}
	return true
}

func tableName(p schema.PreAggregation) string {
	return fmt.Sprintf("%s_%s_rollup", p.Cube, p.Name)
}
