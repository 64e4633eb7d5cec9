package compiler

import (
	"context"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/ingest"
	"github.com/canonica-labs/cubecompile/internal/physical"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/preagg"
	"github.com/canonica-labs/cubecompile/internal/rewrite"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// CompileSQL is the raw-SQL-text entry point, running the full pipeline
// front to back: internal/ingest turns rawSQL into the RelNode
// tree the e-graph consumes, internal/rewrite runs equality saturation to
// produce the logical IR, and the rest of the pipeline (pre-aggregation
// matching, emission) runs exactly as it does for the direct QueryRequest
// entry point, Compile.
func CompileSQL(ctx context.Context, rawSQL string, s *schema.Schema, d *dialect.TemplateSet, limits rewrite.SaturationLimits, shouldReuseParams bool) (*CompileOutcome, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	relNode, err := ingest.Ingest(rawSQL)
	if err != nil {
		return nil, err
	}

	node, err := rewrite.Rewrite(ctx, relNode, s, d, limits)
	if err != nil {
		return nil, err
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	q, usedPreAggregations, err := toEmittableQuery(s, node)
	if err != nil {
		return nil, err
	}

	emitter := physical.NewEmitter(s, d)
	emitter.Params.ShouldReuseParams = shouldReuseParams
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

// toEmittableQuery normalizes node into a plan.Query the emitter can walk,
// applying pre-aggregation matching when node resolved to a query over
// a single cube's LogicalJoin rather than a fully pushed-down WrappedSelect.
func toEmittableQuery(s *schema.Schema, node plan.PlanNode) (plan.Query, []string, error) {
	switch n := node.(type) {
	case plan.Query:
		cubes, err := cubesOf(s, n)
		if err != nil {
			return plan.Query{}, nil, err
		}
		if len(cubes) != 1 {
			return n, nil, nil
		}
		cube, ok := s.Cube(cubes[0])
		if !ok {
			return n, nil, nil
		}
		resultNode, matched, matchErr := preagg.Match(n, cube, filter.Symbols(n.Filters))
		if matchErr == nil {
			n.Source = *resultNode
			return n, []string{matched.ID()}, nil
		}
		if !cerr.IsPreAggregationMismatch(matchErr) {
			return plan.Query{}, nil, matchErr
		}
		return n, nil, nil
	case plan.WrappedSelect:
		return plan.Query{Source: n}, nil, nil
	default:
		return plan.Query{Source: n}, nil, nil
	}
}
