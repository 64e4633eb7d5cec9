// Package multistage implements the multi-stage measure planner:
// expanding a measure marked multi_stage into a stage DAG of
// LeafMeasure/MeasureCalculation/TimeSeries/RollingWindow logical nodes,
// flattened into an ordered CTE list and joined by a FullKeyAggregate.
package multistage

import (
	"fmt"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// TimeShiftState describes the cloned-schema shift a multi-stage measure's
// sub-DAG runs under.
type TimeShiftState struct {
	Interval string
	Name     string
}

// CTE is one flattened, named stage of the plan. Stages form an ordered
// list; each CTE references earlier ones by name.
type CTE struct {
	Name string
	Node plan.PlanNode
}

// Build expands every multi-stage measure in measures into its stage DAG
// and returns the flattened, dependency-ordered CTE list plus the top-level
// FullKeyAggregate joining all of them (and any non-multi-stage measure
// subqueries) on joinDimensions.
func Build(measures []*schema.Measure, nonMultiStage []plan.PlanNode, joinDimensions []string) ([]CTE, *plan.FullKeyAggregate, error) {
	var ctes []CTE
	var topMembers []plan.PlanNode
	topMembers = append(topMembers, nonMultiStage...)

	for _, m := range measures {
		if !m.MultiStage {
			continue
		}
		node, name, err := buildStageDAG(m, &ctes)
		if err != nil {
			return nil, nil, err
		}
		ctes = append(ctes, CTE{Name: name, Node: node})
		topMembers = append(topMembers, node)
	}

	agg := &plan.FullKeyAggregate{
		JoinDimensions:         joinDimensions,
		Members:                topMembers,
		UseFullJoinAndCoalesce: true,
	}
	return ctes, agg, nil
}

func buildStageDAG(m *schema.Measure, ctes *[]CTE) (plan.PlanNode, string, error) {
	if len(m.ReduceBy) == 0 && len(m.AddGroupBy) == 0 && len(m.GroupBy) == 0 {
		return nil, "", cerr.NewInvalidMultiStage(m.FullName(), "multi-stage measure declares no reduceBy/addGroupBy/groupBy dimensions")
	}

	leaf := plan.LogicalMultiStageMember{
		Kind:     plan.KindLeafMeasure,
		Measure:  m.FullName(),
		ReduceBy: reduceDims(m),
	}

	var current plan.PlanNode = leaf
	stageName := cteName(m.FullName(), "leaf")

	switch {
	case m.RollingWindow != nil:
		dateRange := plan.LogicalMultiStageMember{Kind: plan.KindGetDateRange, TimeDimension: firstOf(m.ReduceBy)}
		series := plan.LogicalMultiStageMember{Kind: plan.KindTimeSeries, TimeDimension: firstOf(m.ReduceBy), Input: dateRange}
		*ctes = append(*ctes, CTE{Name: cteName(m.FullName(), "leaf"), Node: leaf})
		*ctes = append(*ctes, CTE{Name: cteName(m.FullName(), "series"), Node: series})
		current = plan.LogicalMultiStageMember{
			Kind:          plan.KindRollingWindow,
			TimeDimension: firstOf(m.ReduceBy),
			Trailing:      m.RollingWindow.Trailing,
			Leading:       m.RollingWindow.Leading,
			Offset:        m.RollingWindow.Offset,
			// Input is the leaf measure CTE the window sums from; Series is
			// the densified date axis the window frame is anchored to. Both
			// must stay reachable from this node so the physical emitter
			// can join them.
			Input:  leaf,
			Series: series,
		}
		stageName = cteName(m.FullName(), "rolling")
		if err := checkTimeShiftConsistency(m); err != nil {
			return nil, "", err
		}
		return current, stageName, nil

	case isRankType(m):
		current = plan.LogicalMultiStageMember{
			Kind:        plan.KindMeasureCalculation,
			Calculation: plan.CalcRank,
			PartitionBy: m.AddGroupBy,
			OrderBy:     orderExprs(m.OrderBy),
			Input:       current,
		}
		stageName = cteName(m.FullName(), "rank")

	default:
		current = plan.LogicalMultiStageMember{
			Kind:        plan.KindMeasureCalculation,
			Calculation: plan.CalcAggregate,
			PartitionBy: m.GroupBy,
			Input:       current,
		}
		stageName = cteName(m.FullName(), "agg")
	}

	if err := checkTimeShiftConsistency(m); err != nil {
		return nil, "", err
	}

	*ctes = append(*ctes, CTE{Name: cteName(m.FullName(), "leaf"), Node: leaf})
	return current, stageName, nil
}

func reduceDims(m *schema.Measure) []string {
	if len(m.ReduceBy) > 0 {
		return m.ReduceBy
	}
	return m.GroupBy
}

func firstOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func isRankType(m *schema.Measure) bool {
	return m.Type == schema.MeasureRank
}

func orderExprs(names []string) []plan.OrderExpr {
	out := make([]plan.OrderExpr, len(names))
	for i, n := range names {
		out[i] = plan.OrderExpr{Symbol: n}
	}
	return out
}

func cteName(measure, stage string) string {
	safe := measure
	for i, r := range safe {
		if r == '.' {
			safe = safe[:i] + "_" + safe[i+1:]
		}
	}
	return fmt.Sprintf("%s_%s", safe, stage)
}

// checkTimeShiftConsistency refuses a measure whose shift refs resolve to
// both a named shift and an interval shift; that ambiguity is surfaced
// rather than guessed at.
func checkTimeShiftConsistency(m *schema.Measure) error {
	seenNamed, seenInterval := false, false
	for _, ref := range m.TimeShiftRefs {
		if ref == "" {
			continue
		}
		if _, ok := granularityLike(ref); ok {
			seenInterval = true
		} else {
			seenNamed = true
		}
	}
	if seenNamed && seenInterval {
		return cerr.NewInvalidMultiStage(m.FullName(), "both a named and an interval time shift resolved for this measure")
	}
	return nil
}

// granularityLike is a conservative heuristic: an interval-shaped shift ref
// looks like "-1 month"/"+2 day" rather than a calendar dimension name.
func granularityLike(ref string) (string, bool) {
	for _, c := range ref {
		if c == ' ' || c == '-' || c == '+' {
			return ref, true
		}
	}
	return "", false
}
