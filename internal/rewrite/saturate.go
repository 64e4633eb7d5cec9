package rewrite

import (
	"context"
	"time"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
)

// SaturationLimits caps the equality-saturation loop: node limit, time
// limit, iteration limit, all configurable.
type SaturationLimits struct {
	MaxIterations int
	MaxNodes      int
	MaxDuration   time.Duration
}

// DefaultSaturationLimits returns conservative limits suitable for an
// interactive compile call.
func DefaultSaturationLimits() SaturationLimits {
	return SaturationLimits{MaxIterations: 30, MaxNodes: 50_000, MaxDuration: 2 * time.Second}
}

// Saturate runs rules to a fixed point or until a limit/cancellation stops
// it. It checks ctx between iterations and between each rule's batch of
// applications.
func Saturate(ctx context.Context, g *EGraph, d *dialect.TemplateSet, lookup symbolLookup, rules []Rule, limits SaturationLimits) error {
	deadline := time.Now().Add(limits.MaxDuration)
	for iter := 0; iter < limits.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return cerr.NewCancelled()
		default:
		}
		if time.Now().After(deadline) {
			return nil // best-so-far: time budget exhausted, not an error
		}
		if g.NodeCount() > limits.MaxNodes {
			return nil // best-so-far: node budget exhausted
		}

		anyChanged := false
		for _, rule := range rules {
			select {
			case <-ctx.Done():
				return cerr.NewCancelled()
			default:
			}
			if rule.Apply(g, d, lookup) {
				anyChanged = true
			}
		}
		g.Rebuild()
		if !anyChanged {
			return nil // reached a fixed point
		}
	}
	return nil
}

// Term is the extracted, acyclic best expression for an eclass: the chosen
// ENode together with its already-extracted children.
type Term struct {
	Op       Op
	Data     string
	Children []*Term
}

// Cost is the extraction cost function: prefer a single outer
// CubeScanWrapper, then fewer replacer markers, then lower node count.
// NonMember is the deterministic tie-break within an eclass:
// when a raw expression and its member-recognized form cost the same, the
// member form wins, otherwise recognized dimensions would never surface in
// the extracted plan.
type Cost struct {
	HasOuterWrapper int // 0 if wrapped in a single outer CubeScanWrapper, else 1 (lower is better)
	ReplacerMarkers int
	NodeCount       int
	NonMember       int
}

func (c Cost) less(o Cost) bool {
	if c.HasOuterWrapper != o.HasOuterWrapper {
		return c.HasOuterWrapper < o.HasOuterWrapper
	}
	if c.ReplacerMarkers != o.ReplacerMarkers {
		return c.ReplacerMarkers < o.ReplacerMarkers
	}
	if c.NodeCount != o.NodeCount {
		return c.NodeCount < o.NodeCount
	}
	return c.NonMember < o.NonMember
}

func isMemberOp(op Op) bool {
	switch op {
	case OpMemberDimension, OpMemberMeasure, OpMemberTimeDimension:
		return true
	default:
		return false
	}
}

// Extract picks, per eclass, the node minimizing Cost and reconstructs the
// resulting Term tree rooted at root. Returns RewriteCannotDecide if the
// root eclass has no nodes (saturation produced nothing usable).
func Extract(root int, g *EGraph) (*Term, error) {
	memo := map[int]*extracted{}
	t, _, err := extractClass(g, root, memo, map[int]bool{})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type extracted struct {
	term *Term
	cost Cost
}

func extractClass(g *EGraph, id int, memo map[int]*extracted, inProgress map[int]bool) (*Term, Cost, error) {
	id = g.Find(id)
	if e, ok := memo[id]; ok {
		return e.term, e.cost, nil
	}
	if inProgress[id] {
		// A cycle means no acyclic extraction is possible through this
		// path; the caller tries other nodes in the class instead.
		return nil, Cost{}, cerr.NewRewriteCannotDecide("cyclic eclass during extraction")
	}
	cls := g.classes[id]
	if cls == nil || len(cls.Nodes) == 0 {
		return nil, Cost{}, cerr.NewRewriteCannotDecide("empty eclass")
	}
	inProgress[id] = true
	defer delete(inProgress, id)

	var best *Term
	var bestCost Cost
	found := false

	for _, n := range cls.Nodes {
		childTerms := make([]*Term, 0, len(n.Children))
		sumChildNodes := 0
		sumChildMarkers := 0
		ok := true
		for _, c := range n.Children {
			ct, cc, err := extractClass(g, c, memo, inProgress)
			if err != nil {
				ok = false
				break
			}
			childTerms = append(childTerms, ct)
			sumChildNodes += cc.NodeCount
			sumChildMarkers += cc.ReplacerMarkers
		}
		if !ok {
			continue
		}
		cost := Cost{
			NodeCount:       sumChildNodes + 1,
			ReplacerMarkers: sumChildMarkers,
			HasOuterWrapper: 1,
			NonMember:       1,
		}
		if isMemberOp(n.Op) {
			cost.NonMember = 0
		}
		if isReplacerMarker(n.Op) {
			cost.ReplacerMarkers++
		}
		if n.Op == OpCubeScanWrapper {
			cost.HasOuterWrapper = 0
		}
		if !found || cost.less(bestCost) {
			best = &Term{Op: n.Op, Data: n.Data, Children: childTerms}
			bestCost = cost
			found = true
		}
	}

	if !found {
		return nil, Cost{}, cerr.NewRewriteCannotDecide("no acyclic node in eclass")
	}
	memo[id] = &extracted{term: best, cost: bestCost}
	return best, bestCost, nil
}

// IsFullyPushedDown reports whether t's root is a single outer
// CubeScanWrapper whose leaves are all CubeScan nodes, the shape that
// can be pushed down whole.
func IsFullyPushedDown(t *Term) bool {
	if t == nil || t.Op != OpCubeScanWrapper {
		return false
	}
	return allLeavesAreCubeScan(t)
}

func allLeavesAreCubeScan(t *Term) bool {
	if len(t.Children) == 0 {
		return t.Op == OpCubeScan || t.Op == OpWrappedSelect
	}
	for _, c := range t.Children {
		if !allLeavesAreCubeScan(c) {
			return false
		}
	}
	return true
}
