// Package compiler exposes the core compile() entry point:
// the single call that turns a cube query request into a physical SQL
// statement, wiring the schema model, symbol evaluator, filter model, plan
// IR, pre-aggregation matcher, multi-stage planner, and physical emitter
// together in pipeline order. internal/rewrite is wired in separately by
// CompileSQL, the entry point that accepts raw SQL text instead of an
// already-structured QueryRequest.
package compiler

import (
	"context"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/multistage"
	"github.com/canonica-labs/cubecompile/internal/physical"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/preagg"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// TimeDimensionRequest is one requested time dimension at a granularity,
// optionally bounded to a date range.
type TimeDimensionRequest struct {
	Path          string
	Granularity   string
	DateRangeFrom string
	DateRangeTo   string
}

// QueryRequest is the compile() input contract.
type QueryRequest struct {
	Measures       []string
	Dimensions     []string
	TimeDimensions []TimeDimensionRequest
	Filters        filter.Item
	OrderBy        []plan.OrderExpr
	Limit          int
	Offset         int
	Ungrouped      bool
	Timezone       string

	// ShouldReuseParams threads the parameter-deduplication toggle down
	// to the ParamsAllocator.
	ShouldReuseParams bool
}

// CompileOutcome is the compile() success contract.
type CompileOutcome struct {
	SQL                 string
	Params              []physical.Value
	UsedPreAggregations  []string
	PlanTextForExplain  string
}

// Compile turns req into a physical SQL statement against s under dialect d,
// cooperatively checking ctx for cancellation at every stage boundary, since
// most stages in the direct QueryRequest path are not themselves
// interruptible sub-loops the way e-graph saturation is.
func Compile(ctx context.Context, req QueryRequest, s *schema.Schema, d *dialect.TemplateSet) (*CompileOutcome, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	q, err := buildQuery(req)
	if err != nil {
		return nil, err
	}

	cubes, err := cubesOf(s, q)
	if err != nil {
		return nil, err
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	var usedPreAggregations []string
	var multiStageMeasures, regularMeasures []string
	for _, m := range q.Measures {
		def, ok := s.Measure(m)
		if !ok {
			return nil, cerr.NewUnknownMember(m)
		}
		if def.MultiStage {
			multiStageMeasures = append(multiStageMeasures, m)
		} else {
			regularMeasures = append(regularMeasures, m)
		}
	}

	if len(multiStageMeasures) > 0 {
		q.Source, err = buildMultiStageSource(s, q, multiStageMeasures, regularMeasures)
		if err != nil {
			return nil, err
		}
	} else {
		jg := schema.NewJoinGraph(s)
		tree, err := jg.BuildJoin(cubes)
		if err != nil {
			var ambiguous *schema.AmbiguousJoinError
			if as, ok := err.(*schema.AmbiguousJoinError); ok {
				ambiguous = as
			}
			if ambiguous != nil {
				return nil, cerr.NewAmbiguousJoin(ambiguous.Cubes)
			}
			return nil, err
		}
		join := plan.LogicalJoin{Root: tree.Root}
		for _, step := range tree.Steps {
			join.Items = append(join.Items, plan.JoinItem{Cube: step.Cube, Relationship: step.Relationship, OnSQL: step.OnSQL})
		}
		q.Source = join

		if len(cubes) == 1 {
			if cube, ok := s.Cube(cubes[0]); ok {
				filterSymbols := filter.Symbols(q.Filters)
				node, matched, matchErr := preagg.Match(q, cube, filterSymbols)
				if matchErr == nil {
					q.Source = *node
					usedPreAggregations = append(usedPreAggregations, matched.ID())
				} else if !cerr.IsPreAggregationMismatch(matchErr) {
					return nil, matchErr
				}
			}
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	emitter := physical.NewEmitter(s, d)
	emitter.Params.ShouldReuseParams = req.ShouldReuseParams
	sql, params, err := emitter.Emit(q)
	if err != nil {
		if ce, ok := err.(interface{ WithPlan(string) *cerr.CompileError }); ok {
			_ = ce.WithPlan(prettyPrint(q))
		}
		return nil, err
	}

	return &CompileOutcome{
		SQL:                 sql,
		Params:              params,
		UsedPreAggregations: usedPreAggregations,
		PlanTextForExplain:  prettyPrint(q),
	}, nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return cerr.NewCancelled()
	default:
		return nil
	}
}

func buildQuery(req QueryRequest) (plan.Query, error) {
	q := plan.Query{
		Measures:   req.Measures,
		Dimensions: req.Dimensions,
		Filters:    req.Filters,
		OrderBy:    req.OrderBy,
		Limit:      req.Limit,
		Offset:     req.Offset,
		Ungrouped:  req.Ungrouped,
	}
	for _, td := range req.TimeDimensions {
		q.TimeDimensions = append(q.TimeDimensions, plan.TimeDimensionSelection{
			Dimension:     td.Path,
			Granularity:   td.Granularity,
			DateRangeFrom: td.DateRangeFrom,
			DateRangeTo:   td.DateRangeTo,
		})
	}
	return q, nil
}

// cubesOf returns the distinct, declaration-ordered set of cubes referenced
// by q's measures, dimensions, and time dimensions.
func cubesOf(s *schema.Schema, q plan.Query) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(full string) error {
		cube, err := cubeOfMember(s, full)
		if err != nil {
			return err
		}
		if !seen[cube] {
			seen[cube] = true
			out = append(out, cube)
		}
		return nil
	}
	for _, m := range q.Measures {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	for _, d := range q.Dimensions {
		if err := add(d); err != nil {
			return nil, err
		}
	}
	for _, td := range q.TimeDimensions {
		if err := add(td.Dimension); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, cerr.NewInternal("compile: query references no members", nil)
	}
	return out, nil
}

func cubeOfMember(s *schema.Schema, full string) (string, error) {
	if m, ok := s.Measure(full); ok {
		return m.Cube, nil
	}
	if d, ok := s.Dimension(full); ok {
		return d.Cube, nil
	}
	return "", cerr.NewUnknownMember(full)
}

// buildMultiStageSource builds the regular-measure subquery (if any) plus
// every multi-stage measure's stage DAG, and joins them via
// internal/multistage.Build's FullKeyAggregate.
func buildMultiStageSource(s *schema.Schema, q plan.Query, multiStageMeasures, regularMeasures []string) (plan.PlanNode, error) {
	var defs []*schema.Measure
	for _, m := range multiStageMeasures {
		def, ok := s.Measure(m)
		if !ok {
			return nil, cerr.NewUnknownMember(m)
		}
		defs = append(defs, def)
	}

	var nonMultiStage []plan.PlanNode
	if len(regularMeasures) > 0 {
		cubes, err := cubesOf(s, plan.Query{Measures: regularMeasures, Dimensions: q.Dimensions, TimeDimensions: q.TimeDimensions})
		if err != nil {
			return nil, err
		}
		jg := schema.NewJoinGraph(s)
		tree, err := jg.BuildJoin(cubes)
		if err != nil {
			if ambiguous, ok := err.(*schema.AmbiguousJoinError); ok {
				return nil, cerr.NewAmbiguousJoin(ambiguous.Cubes)
			}
			return nil, err
		}
		join := plan.LogicalJoin{Root: tree.Root}
		for _, step := range tree.Steps {
			join.Items = append(join.Items, plan.JoinItem{Cube: step.Cube, Relationship: step.Relationship, OnSQL: step.OnSQL})
		}
		nonMultiStage = append(nonMultiStage, plan.Query{
			Measures:       regularMeasures,
			Dimensions:     q.Dimensions,
			TimeDimensions: q.TimeDimensions,
			Source:         join,
		})
	}

	joinDimensions := append([]string{}, q.Dimensions...)
	for _, td := range q.TimeDimensions {
		joinDimensions = append(joinDimensions, td.Dimension)
	}

	_, fka, err := multistage.Build(defs, nonMultiStage, joinDimensions)
	if err != nil {
		return nil, err
	}
	return *fka, nil
}

func prettyPrint(q plan.Query) string {
	state := &plan.PrintState{}
	return q.PrettyPrint(state)
}
