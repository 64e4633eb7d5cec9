package rewrite

import (
	"context"
	"errors"
	"strings"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// RelNode is the minimal shape of the incoming relational plan, the
// external DataFusion-like input the rewriter normalizes: a projection /
// filter / aggregate / join / union / limit node
// tree produced by internal/ingest from raw SQL text.
type RelNode struct {
	Kind     string // "Projection" | "Filter" | "Aggregate" | "Join" | "Union" | "Limit" | "TableScan" | "Column" | "Literal" | "BinaryExpr" | "AggrFun" | "Function"
	Data     string
	Children []RelNode
}

// Rewrite runs equality saturation over relNode and extracts a logical plan
// node, resolving Column references against s (cube.column lookup)
// and dialect d's registered templates.
func Rewrite(ctx context.Context, relNode RelNode, s *schema.Schema, d *dialect.TemplateSet, limits SaturationLimits) (plan.PlanNode, error) {
	g := NewEGraph()
	root := toENode(g, relNode)

	lookup := func(cube, column string) (string, bool) {
		full := cube + "." + column
		if s.IsDimension(full) || s.IsMeasure(full) {
			return full, true
		}
		return "", false
	}

	if err := Saturate(ctx, g, d, lookup, StandardRules(), limits); err != nil {
		return nil, err
	}

	term, err := Extract(root, g)
	if err != nil {
		return nil, err
	}
	return toLogicalPlan(term, s)
}

func toENode(g *EGraph, n RelNode) int {
	children := make([]int, len(n.Children))
	for i, c := range n.Children {
		children[i] = toENode(g, c)
	}
	return g.Add(ENode{Op: Op(n.Kind), Data: n.Data, Children: children})
}

// toLogicalPlan converts the extracted Term into the logical IR: a fully
// pushed-down term becomes a WrappedSelect, anything else becomes a Query
// over a LogicalJoin built from the member cubes actually referenced.
func toLogicalPlan(t *Term, s *schema.Schema) (plan.PlanNode, error) {
	if IsFullyPushedDown(t) {
		return termToWrappedSelect(t), nil
	}

	measures, dimensions, timeDims := collectMembers(t)
	if len(measures) == 0 && len(dimensions) == 0 && len(timeDims) == 0 {
		return nil, cerr.NewRewriteCannotDecide("no recognized cube members in extracted plan")
	}

	cubes := map[string]bool{}
	for _, m := range measures {
		cubes[cubeOf(m)] = true
	}
	for _, d := range dimensions {
		cubes[cubeOf(d)] = true
	}
	for _, td := range timeDims {
		cubes[cubeOf(td.Dimension)] = true
	}
	names := make([]string, 0, len(cubes))
	for c := range cubes {
		names = append(names, c)
	}

	jg := schema.NewJoinGraph(s)
	tree, err := jg.BuildJoin(names)
	if err != nil {
		var ambiguous *schema.AmbiguousJoinError
		if errors.As(err, &ambiguous) {
			return nil, cerr.NewAmbiguousJoin(ambiguous.Cubes)
		}
		return nil, err
	}

	join := plan.LogicalJoin{Root: tree.Root}
	for _, step := range tree.Steps {
		join.Items = append(join.Items, plan.JoinItem{Cube: step.Cube, Relationship: step.Relationship, OnSQL: step.OnSQL})
	}

	return plan.Query{
		Measures:       measures,
		Dimensions:     dimensions,
		TimeDimensions: timeDims,
		Source:         join,
	}, nil
}

func cubeOf(full string) string {
	if i := strings.IndexByte(full, '.'); i >= 0 {
		return full[:i]
	}
	return full
}

func collectMembers(t *Term) (measures, dimensions []string, timeDims []plan.TimeDimensionSelection) {
	seenM, seenD, seenT := map[string]bool{}, map[string]bool{}, map[string]bool{}
	var walk func(*Term)
	walk = func(n *Term) {
		switch n.Op {
		case OpMemberMeasure:
			parts := strings.SplitN(n.Data, ":", 2)
			full := n.Data
			if len(parts) == 2 {
				full = parts[1]
			}
			if !seenM[full] {
				seenM[full] = true
				measures = append(measures, full)
			}
		case OpMemberDimension:
			if !seenD[n.Data] {
				seenD[n.Data] = true
				dimensions = append(dimensions, n.Data)
			}
		case OpMemberTimeDimension:
			parts := strings.SplitN(n.Data, "@", 2)
			full := parts[0]
			gran := ""
			if len(parts) == 2 {
				gran = parts[1]
			}
			key := full + "@" + gran
			if !seenT[key] {
				seenT[key] = true
				timeDims = append(timeDims, plan.TimeDimensionSelection{Dimension: full, Granularity: gran})
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	return
}

func termToWrappedSelect(t *Term) plan.PlanNode {
	var projection []string
	var inputs []plan.PlanNode
	for _, c := range t.Children {
		if c.Op == OpCubeScan || c.Op == OpWrappedSelect {
			inputs = append(inputs, termToWrappedSelect(c))
			continue
		}
		projection = append(projection, prettyTerm(c))
	}
	if t.Op == OpCubeScan {
		return plan.WrappedSelect{SelectAlias: t.Data, PushToCube: true}
	}
	return plan.WrappedSelect{
		ProjectionExpr: projection,
		CubeScanInputs: inputs,
		PushToCube:     true,
	}
}

func prettyTerm(t *Term) string {
	if len(t.Children) == 0 {
		return t.Data
	}
	parts := make([]string, len(t.Children))
	for i, c := range t.Children {
		parts[i] = prettyTerm(c)
	}
	return string(t.Op) + "(" + strings.Join(parts, ",") + ")"
}
