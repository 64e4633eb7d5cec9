// Package rewrite implements the SQL-to-logical rewriter: an
// equality-saturation e-graph over a relational/expression language with
// replacer markers that sequence pushdown/pullup/split/flatten/topology
// rules, extracted by a cost function into the logical plan IR.
package rewrite

import (
	"fmt"
	"sort"
	"strings"
)

// Op identifies a node's operator within the Language.
type Op string

const (
	// Relational ops.
	OpCubeScan        Op = "CubeScan"
	OpWrappedSelect   Op = "WrappedSelect"
	OpCubeScanWrapper Op = "CubeScanWrapper"
	OpJoin            Op = "Join"
	OpProjection      Op = "Projection"
	OpFilter          Op = "Filter"
	OpAggregate       Op = "Aggregate"
	OpLimit           Op = "Limit"
	OpSort            Op = "Sort"
	OpUnion           Op = "Union"
	OpSubquery        Op = "Subquery"
	OpCrossJoin       Op = "CrossJoin"

	// Expression ops.
	OpColumn     Op = "Column"
	OpLiteral    Op = "Literal"
	OpBinaryExpr Op = "BinaryExpr"
	OpFunction   Op = "Function"
	OpUDF        Op = "UDF"
	OpAggrFun    Op = "AggrFun"
	OpCase       Op = "Case"
	OpCast       Op = "Cast"
	OpIsNull     Op = "IsNull"
	OpIsNotNull  Op = "IsNotNull"
	OpNot        Op = "Not"
	OpNegative   Op = "Negative"
	OpInList     Op = "InList"
	OpInSubquery Op = "InSubquery"
	OpAlias      Op = "Alias"

	// Member recognition targets (produced by rule family 1).
	OpMemberDimension     Op = "MemberDimension"
	OpMemberMeasure       Op = "MemberMeasure"
	OpMemberTimeDimension Op = "MemberTimeDimension"

	// Replacer markers; not semantic, only sequence saturation.
	OpWrapperPushdownReplacer          Op = "WrapperPushdownReplacer"
	OpWrapperPullupReplacer            Op = "WrapperPullupReplacer"
	OpFlattenPushdownReplacer          Op = "FlattenPushdownReplacer"
	OpAggregateSplitPushdownReplacer   Op = "AggregateSplitPushdownReplacer"
	OpAggregateSplitPullupReplacer     Op = "AggregateSplitPullupReplacer"
	OpProjectionSplitPushdownReplacer  Op = "ProjectionSplitPushdownReplacer"
	OpProjectionSplitPullupReplacer    Op = "ProjectionSplitPullupReplacer"
)

func isReplacerMarker(op Op) bool {
	switch op {
	case OpWrapperPushdownReplacer, OpWrapperPullupReplacer, OpFlattenPushdownReplacer,
		OpAggregateSplitPushdownReplacer, OpAggregateSplitPullupReplacer,
		OpProjectionSplitPushdownReplacer, OpProjectionSplitPullupReplacer:
		return true
	default:
		return false
	}
}

// ENode is one node of the e-graph language: an operator, its ordered child
// eclass ids, and an opaque literal payload for leaf data (column names,
// constants, granularities).
type ENode struct {
	Op       Op
	Children []int
	Data     string
}

func (n ENode) key() string {
	var b strings.Builder
	b.WriteString(string(n.Op))
	b.WriteByte('|')
	b.WriteString(n.Data)
	b.WriteByte('|')
	for _, c := range n.Children {
		fmt.Fprintf(&b, "%d,", c)
	}
	return b.String()
}

// ReplacerContext is the portion of an eclass's analysis that governs
// pushdown/pullup decisions.
type ReplacerContext struct {
	PushToCube       bool
	InProjection     bool
	CubeMembers      []string
	GroupedSubqueries bool
	UngroupedScan    bool
	InputDataSource  string
}

// Analysis is the per-eclass derived fact lattice.
type Analysis struct {
	IsMember    bool
	MemberKind  Op // OpMemberDimension / OpMemberMeasure / OpMemberTimeDimension
	Symbol      string
	Granularity string
	AliasToCube map[string]string
	Replacer    ReplacerContext
}

// merge combines two analyses for nodes unioned into the same eclass,
// keeping the more specific (member-recognized) fact and the union of
// known cube aliases.
func mergeAnalysis(a, b Analysis) Analysis {
	out := a
	if !out.IsMember && b.IsMember {
		out.IsMember = b.IsMember
		out.MemberKind = b.MemberKind
		out.Symbol = b.Symbol
		out.Granularity = b.Granularity
	}
	if out.AliasToCube == nil {
		out.AliasToCube = map[string]string{}
	}
	for k, v := range b.AliasToCube {
		out.AliasToCube[k] = v
	}
	return out
}

// EClass groups equivalent ENodes with one shared Analysis.
type EClass struct {
	ID       int
	Nodes    []ENode
	Analysis Analysis
	Parents  []int // eclass ids of nodes that reference this class, for upward propagation
}

// EGraph is the union-find-backed equality graph.
type EGraph struct {
	uf      []int
	classes map[int]*EClass
	hashcons map[string]int
	nextID  int
}

// NewEGraph creates an empty e-graph.
func NewEGraph() *EGraph {
	return &EGraph{classes: map[int]*EClass{}, hashcons: map[string]int{}}
}

func (g *EGraph) newClass() int {
	id := g.nextID
	g.nextID++
	g.uf = append(g.uf, id)
	g.classes[id] = &EClass{ID: id}
	return id
}

// Find returns the canonical eclass id for id, with path compression.
func (g *EGraph) Find(id int) int {
	for g.uf[id] != id {
		g.uf[id] = g.uf[g.uf[id]]
		id = g.uf[id]
	}
	return id
}

func (g *EGraph) canonicalize(n ENode) ENode {
	cp := ENode{Op: n.Op, Data: n.Data, Children: make([]int, len(n.Children))}
	for i, c := range n.Children {
		cp.Children[i] = g.Find(c)
	}
	return cp
}

// Add inserts (hashconsing) n into the graph and returns its eclass id.
func (g *EGraph) Add(n ENode) int {
	n = g.canonicalize(n)
	key := n.key()
	if id, ok := g.hashcons[key]; ok {
		return g.Find(id)
	}
	id := g.newClass()
	cls := g.classes[id]
	cls.Nodes = append(cls.Nodes, n)
	cls.Analysis = analyze(g, n)
	g.hashcons[key] = id
	for _, c := range n.Children {
		cc := g.classes[g.Find(c)]
		cc.Parents = append(cc.Parents, id)
	}
	return id
}

// Class returns the canonical eclass for id.
func (g *EGraph) Class(id int) *EClass {
	return g.classes[g.Find(id)]
}

// Union merges the eclasses of a and b. It returns true if two classes were
// merged and false if they were already equal (no-op).
func (g *EGraph) Union(a, b int) bool {
	ra, rb := g.Find(a), g.Find(b)
	if ra == rb {
		return false
	}
	ca, cb := g.classes[ra], g.classes[rb]
	// Union by size, keep the larger node-set's id to limit rehashing churn.
	if len(ca.Nodes) < len(cb.Nodes) {
		ra, rb = rb, ra
		ca, cb = cb, ca
	}
	g.uf[rb] = ra
	ca.Nodes = append(ca.Nodes, cb.Nodes...)
	ca.Parents = append(ca.Parents, cb.Parents...)
	ca.Analysis = mergeAnalysis(ca.Analysis, cb.Analysis)
	delete(g.classes, rb)
	return true
}

// Rebuild re-canonicalizes every hashcons entry after a batch of unions,
// restoring the congruence invariant (two equal children imply equal
// parents) before the next saturation iteration.
func (g *EGraph) Rebuild() {
	newHashcons := make(map[string]int, len(g.hashcons))
	for id, cls := range g.classes {
		var kept []ENode
		seen := map[string]bool{}
		for _, n := range cls.Nodes {
			cn := g.canonicalize(n)
			k := cn.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			kept = append(kept, cn)
			newHashcons[k] = id
		}
		cls.Nodes = kept
	}
	g.hashcons = newHashcons
}

// NodeCount returns the total number of (deduplicated) enodes across all
// live eclasses, the saturation loop's node-limit metric.
func (g *EGraph) NodeCount() int {
	n := 0
	for _, cls := range g.classes {
		n += len(cls.Nodes)
	}
	return n
}

// analyze computes the Analysis for a freshly-added node from the analyses
// of its (already canonical) children.
func analyze(g *EGraph, n ENode) Analysis {
	a := Analysis{AliasToCube: map[string]string{}}
	switch n.Op {
	case OpAlias:
		if len(n.Children) == 1 {
			child := g.classes[n.Children[0]]
			if child != nil {
				a = child.Analysis
			}
		}
		if n.Data != "" && len(n.Children) == 0 {
			a.AliasToCube[n.Data] = n.Data
		}
	case OpMemberDimension, OpMemberTimeDimension:
		a.IsMember = true
		a.MemberKind = n.Op
		a.Symbol = n.Data
	case OpMemberMeasure:
		a.IsMember = true
		a.MemberKind = n.Op
		a.Symbol = n.Data
	}
	for _, c := range n.Children {
		if cls := g.classes[c]; cls != nil {
			for k, v := range cls.Analysis.AliasToCube {
				a.AliasToCube[k] = v
			}
		}
	}
	return a
}

// sortedClassIDs returns all live eclass ids in deterministic ascending
// order, the iteration order saturation and extraction rely on for
// reproducibility.
func (g *EGraph) sortedClassIDs() []int {
	ids := make([]int, 0, len(g.classes))
	for id := range g.classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
