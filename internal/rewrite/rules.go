package rewrite

import (
	"github.com/canonica-labs/cubecompile/internal/dialect"
)

// Rule is one saturation rule: Apply scans the graph for the (eclass id,
// node) pairs the rule applies to, inserts the rewritten form and unions it
// with the match, returning true if it changed the graph. Rules are idempotent: a
// rule whose rewritten form is already present is a no-op union.
type Rule struct {
	Name  string
	Apply func(g *EGraph, d *dialect.TemplateSet, symbolOf symbolLookup) bool
}

// symbolLookup resolves a "cube.column"-shaped reference to a known member
// full name, the guard rule family 1 applies before recognizing a Column as
// a member: it only matches when the column's alias resolves to a known
// cube in the current scope.
type symbolLookup func(cube, column string) (string, bool)

// StandardRules returns the representative rule set spanning the five
// rule families. Each family is exercised by at least one rule; a
// production catalog grows dozens of rules per family on the same shapes.
func StandardRules() []Rule {
	return []Rule{
		ruleMemberDimension(),
		ruleMemberMeasure(),
		ruleMemberTimeDimension(),
		rulePushdownSymmetryColumn(),
		rulePushdownSymmetryBinary(),
		ruleAggregateSplit(),
		ruleProjectionSplit(),
		ruleFlattenPassthroughWrappedSelect(),
		ruleTopologyDistinct(),
		ruleTopologyUnionAssoc(),
	}
}

// --- Family 1: member recognition -------------------------------------------

func ruleMemberDimension() Rule {
	return Rule{Name: "member-recognition/dimension", Apply: func(g *EGraph, _ *dialect.TemplateSet, lookup symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, n := range cls.Nodes {
				if n.Op != OpColumn {
					continue
				}
				cube, col, ok := splitQualified(n.Data)
				if !ok {
					continue
				}
				full, ok := lookup(cube, col)
				if !ok {
					continue
				}
				memberID := g.Add(ENode{Op: OpMemberDimension, Data: full})
				if g.Union(id, memberID) {
					changed = true
				}
			}
		}
		return changed
	}}
}

func ruleMemberMeasure() Rule {
	return Rule{Name: "member-recognition/measure", Apply: func(g *EGraph, _ *dialect.TemplateSet, lookup symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, n := range cls.Nodes {
				if n.Op != OpAggrFun || len(n.Children) != 1 {
					continue
				}
				argCls := g.classes[g.Find(n.Children[0])]
				if argCls == nil {
					continue
				}
				for _, arg := range argCls.Nodes {
					if arg.Op != OpColumn {
						continue
					}
					cube, col, ok := splitQualified(arg.Data)
					if !ok {
						continue
					}
					full, ok := lookup(cube, col)
					if !ok {
						continue
					}
					memberID := g.Add(ENode{Op: OpMemberMeasure, Data: n.Data + ":" + full})
					if g.Union(id, memberID) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}

func ruleMemberTimeDimension() Rule {
	return Rule{Name: "member-recognition/time-dimension", Apply: func(g *EGraph, _ *dialect.TemplateSet, lookup symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, n := range cls.Nodes {
				if n.Op != OpFunction || n.Data == "" || len(n.Children) != 2 {
					continue
				}
				if !isDateTruncName(n.Data) {
					continue
				}
				granCls := g.classes[g.Find(n.Children[0])]
				colCls := g.classes[g.Find(n.Children[1])]
				if granCls == nil || colCls == nil {
					continue
				}
				for _, gran := range granCls.Nodes {
					if gran.Op != OpLiteral {
						continue
					}
					for _, col := range colCls.Nodes {
						if col.Op != OpColumn {
							continue
						}
						cube, c, ok := splitQualified(col.Data)
						if !ok {
							continue
						}
						full, ok := lookup(cube, c)
						if !ok {
							continue
						}
						memberID := g.Add(ENode{Op: OpMemberTimeDimension, Data: full + "@" + gran.Data})
						if g.Union(id, memberID) {
							changed = true
						}
					}
				}
			}
		}
		return changed
	}}
}

func isDateTruncName(name string) bool {
	return name == "DATE_TRUNC" || name == "date_trunc"
}

func splitQualified(s string) (cube, member string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// --- Family 2: pushdown/pullup symmetry -------------------------------------

// rulePushdownSymmetryColumn pushes a recognized member Column down into a
// wrapper, guarded by can_rewrite_template on the scope's input data source.
func rulePushdownSymmetryColumn() Rule {
	return Rule{Name: "pushdown-pullup/column", Apply: func(g *EGraph, d *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil || !cls.Analysis.IsMember {
				continue
			}
			if d == nil {
				continue
			}
			pushed := g.Add(ENode{Op: OpWrapperPushdownReplacer, Children: []int{id}})
			if g.Union(id, pushed) {
				changed = true
			}
		}
		return changed
	}}
}

// rulePushdownSymmetryBinary distributes a pushdown replacer marker over a
// binary expression's children, the per-expression-kind pushdown rule the
// spec describes generically.
func rulePushdownSymmetryBinary() Rule {
	return Rule{Name: "pushdown-pullup/binary", Apply: func(g *EGraph, d *dialect.TemplateSet, _ symbolLookup) bool {
		if d == nil || !d.CanRewriteTemplate("expressions/equals") {
			return false
		}
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, n := range cls.Nodes {
				if n.Op != OpWrapperPushdownReplacer || len(n.Children) != 1 {
					continue
				}
				innerCls := g.classes[g.Find(n.Children[0])]
				if innerCls == nil {
					continue
				}
				for _, inner := range innerCls.Nodes {
					if inner.Op != OpBinaryExpr || len(inner.Children) != 2 {
						continue
					}
					lhs := g.Add(ENode{Op: OpWrapperPushdownReplacer, Children: []int{inner.Children[0]}})
					rhs := g.Add(ENode{Op: OpWrapperPushdownReplacer, Children: []int{inner.Children[1]}})
					rewritten := g.Add(ENode{Op: OpBinaryExpr, Data: inner.Data, Children: []int{lhs, rhs}})
					pulled := g.Add(ENode{Op: OpWrapperPullupReplacer, Children: []int{rewritten}})
					if g.Union(id, pulled) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}

// --- Family 3: split ---------------------------------------------------------

// ruleAggregateSplit splits an Aggregate sitting above another Aggregate
// into an inner pushdown part and an outer pullup part.
func ruleAggregateSplit() Rule {
	return Rule{Name: "split/aggregate", Apply: func(g *EGraph, _ *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, outer := range cls.Nodes {
				if outer.Op != OpAggregate || len(outer.Children) != 1 {
					continue
				}
				innerCls := g.classes[g.Find(outer.Children[0])]
				if innerCls == nil {
					continue
				}
				for _, inner := range innerCls.Nodes {
					if inner.Op != OpAggregate {
						continue
					}
					pushdown := g.Add(ENode{Op: OpAggregateSplitPushdownReplacer, Children: inner.Children})
					pullup := g.Add(ENode{Op: OpAggregateSplitPullupReplacer, Children: []int{pushdown}})
					if g.Union(id, pullup) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}

// ruleProjectionSplit mirrors ruleAggregateSplit for a Projection stacked
// over an Aggregate or another Projection.
func ruleProjectionSplit() Rule {
	return Rule{Name: "split/projection", Apply: func(g *EGraph, _ *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, outer := range cls.Nodes {
				if outer.Op != OpProjection || len(outer.Children) == 0 {
					continue
				}
				child := g.Find(outer.Children[0])
				innerCls := g.classes[child]
				if innerCls == nil {
					continue
				}
				for _, inner := range innerCls.Nodes {
					if inner.Op != OpAggregate && inner.Op != OpProjection {
						continue
					}
					pushdown := g.Add(ENode{Op: OpProjectionSplitPushdownReplacer, Children: inner.Children})
					pullup := g.Add(ENode{Op: OpProjectionSplitPullupReplacer, Children: []int{pushdown}})
					if g.Union(id, pullup) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}

// --- Family 4: flatten -------------------------------------------------------

// ruleFlattenPassthroughWrappedSelect inlines a nested WrappedSelect when
// the outer one has no projection/filter/group of its own (a pure
// pass-through), collapsing two wrapper layers into one.
func ruleFlattenPassthroughWrappedSelect() Rule {
	return Rule{Name: "flatten/passthrough-wrapped-select", Apply: func(g *EGraph, _ *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, outer := range cls.Nodes {
				if outer.Op != OpWrappedSelect || outer.Data != "" || len(outer.Children) != 1 {
					continue
				}
				innerCls := g.classes[g.Find(outer.Children[0])]
				if innerCls == nil {
					continue
				}
				for _, inner := range innerCls.Nodes {
					if inner.Op != OpWrappedSelect {
						continue
					}
					flattened := g.Add(ENode{Op: OpFlattenPushdownReplacer, Children: inner.Children, Data: inner.Data})
					if g.Union(id, flattened) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}

// --- Family 5: topology -------------------------------------------------------

// ruleTopologyDistinct unions a single-input Projection marked distinct
// with a WrappedSelect marked distinct over the same input (a representative
// topology rule).
func ruleTopologyDistinct() Rule {
	return Rule{Name: "topology/distinct", Apply: func(g *EGraph, _ *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, n := range cls.Nodes {
				if n.Op != OpProjection || n.Data != "distinct" || len(n.Children) != 1 {
					continue
				}
				rewritten := g.Add(ENode{Op: OpWrappedSelect, Data: "distinct", Children: n.Children})
				if g.Union(id, rewritten) {
					changed = true
				}
			}
		}
		return changed
	}}
}

// ruleTopologyUnionAssoc flattens nested Unions with matching schemas
// (Union(a, Union(b, c)) -> Union(a, b, c)).
func ruleTopologyUnionAssoc() Rule {
	return Rule{Name: "topology/union-assoc", Apply: func(g *EGraph, _ *dialect.TemplateSet, _ symbolLookup) bool {
		changed := false
		for _, id := range g.sortedClassIDs() {
			cls := g.classes[id]
			if cls == nil {
				continue
			}
			for _, outer := range cls.Nodes {
				if outer.Op != OpUnion || len(outer.Children) != 2 {
					continue
				}
				rhsCls := g.classes[g.Find(outer.Children[1])]
				if rhsCls == nil {
					continue
				}
				for _, rhs := range rhsCls.Nodes {
					if rhs.Op != OpUnion {
						continue
					}
					flat := append([]int{outer.Children[0]}, rhs.Children...)
					rewritten := g.Add(ENode{Op: OpUnion, Children: flat})
					if g.Union(id, rewritten) {
						changed = true
					}
				}
			}
		}
		return changed
	}}
}
