// Package plan implements the logical plan IR: a typed tree of nodes
// produced by the rewriter, optionally substituted by the
// pre-aggregation matcher, expanded by the multi-stage planner,
// and finally consumed by the physical emitter.
package plan

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// PlanNode is the uniform interface every logical node implements.
type PlanNode interface {
	Inputs() []PlanNode
	WithInputs(inputs []PlanNode) PlanNode
	NodeName() string
	PrettyPrint(state *PrintState) string
}

// PrintState accumulates indentation for PrettyPrint, the mechanism golden
// tests render a plan through.
type PrintState struct {
	Indent int
}

func (s PrintState) child() PrintState { return PrintState{Indent: s.Indent + 1} }

func (s PrintState) line(text string) string {
	return strings.Repeat("  ", s.Indent) + text
}

// WrongNodeKind is returned by TryFrom when the concrete node does not
// match the requested type, the mechanism that lets transformers
// reconstruct strongly-typed children from the PlanNode sum.
type WrongNodeKind struct {
	Want string
	Got  string
}

func (e *WrongNodeKind) Error() string {
	return fmt.Sprintf("plan: expected node kind %s, got %s", e.Want, e.Got)
}

// TryFrom downcasts n to T, or returns a *WrongNodeKind error.
func TryFrom[T PlanNode](n PlanNode) (T, error) {
	v, ok := n.(T)
	if !ok {
		var zero T
		return zero, &WrongNodeKind{Want: fmt.Sprintf("%T", zero), Got: n.NodeName()}
	}
	return v, nil
}

// TimeDimensionSelection is a requested time dimension at a granularity,
// optionally bounded to a date range.
type TimeDimensionSelection struct {
	Dimension   string
	Granularity string
	DateRangeFrom string
	DateRangeTo   string
}

// OrderExpr is one ORDER BY entry, by member full name.
type OrderExpr struct {
	Symbol string
	Desc   bool
}

// Query is the top-level logical node: the set of requested measures,
// dimensions and time dimensions, the filter tree, and the source plan to
// select them from (a LogicalJoin, a PreAggregation, or a multi-stage
// FullKeyAggregate once multi-stage planning has run).
type Query struct {
	Measures       []string
	Dimensions     []string
	TimeDimensions []TimeDimensionSelection
	Filters        filter.Item
	Source         PlanNode
	Limit          int
	Offset         int
	OrderBy        []OrderExpr
	Ungrouped      bool
}

func (q Query) Inputs() []PlanNode {
	if q.Source == nil {
		return nil
	}
	return []PlanNode{q.Source}
}

func (q Query) WithInputs(inputs []PlanNode) PlanNode {
	cp := q
	if len(inputs) > 0 {
		cp.Source = inputs[0]
	}
	return cp
}

func (Query) NodeName() string { return "Query" }

func (q Query) PrettyPrint(state *PrintState) string {
	var b strings.Builder
	b.WriteString(state.line(fmt.Sprintf("Query[measures=%v dimensions=%v]\n", q.Measures, q.Dimensions)))
	if q.Source != nil {
		child := state.child()
		b.WriteString(q.Source.PrettyPrint(&child))
	}
	return b.String()
}

// JoinItem is one edge of a LogicalJoin's left-deep join chain.
type JoinItem struct {
	Cube         string
	Relationship schema.JoinRelationship
	OnSQL        string
}

// LogicalJoin is the from-clause shape: a root cube plus an ordered chain of
// joined cubes: the root cube plus a left join per item.
type LogicalJoin struct {
	Root  string
	Items []JoinItem
}

func (LogicalJoin) Inputs() []PlanNode { return nil }

func (j LogicalJoin) WithInputs(inputs []PlanNode) PlanNode { return j }

func (LogicalJoin) NodeName() string { return "LogicalJoin" }

func (j LogicalJoin) PrettyPrint(state *PrintState) string {
	return state.line(fmt.Sprintf("LogicalJoin[root=%s items=%d]\n", j.Root, len(j.Items)))
}

// MeasureGroup is one subquery's worth of measures sharing a multiplication
// factor, keyed by the cube whose primary key the group is deduplicated on
// when Multiplied is true.
type MeasureGroup struct {
	Cube       string
	Measures   []string
	Multiplied bool
}

// ResolveMultipliedMeasures splits a query's measures into one subquery per
// group (regular or multiplied) so that a one-to-many join fan-out cannot
// double-count an aggregate.
type ResolveMultipliedMeasures struct {
	Groups []MeasureGroup
	Input  PlanNode
}

func (r ResolveMultipliedMeasures) Inputs() []PlanNode {
	if r.Input == nil {
		return nil
	}
	return []PlanNode{r.Input}
}

func (r ResolveMultipliedMeasures) WithInputs(inputs []PlanNode) PlanNode {
	cp := r
	if len(inputs) > 0 {
		cp.Input = inputs[0]
	}
	return cp
}

func (ResolveMultipliedMeasures) NodeName() string { return "ResolveMultipliedMeasures" }

func (r ResolveMultipliedMeasures) PrettyPrint(state *PrintState) string {
	var b strings.Builder
	b.WriteString(state.line(fmt.Sprintf("ResolveMultipliedMeasures[groups=%d]\n", len(r.Groups))))
	if r.Input != nil {
		child := state.child()
		b.WriteString(r.Input.PrettyPrint(&child))
	}
	return b.String()
}

// FullKeyAggregate joins every multi-stage and regular-measure subquery on
// a common set of join dimensions.
type FullKeyAggregate struct {
	JoinDimensions         []string
	Members                []PlanNode
	UseFullJoinAndCoalesce bool
}

func (f FullKeyAggregate) Inputs() []PlanNode { return f.Members }

func (f FullKeyAggregate) WithInputs(inputs []PlanNode) PlanNode {
	cp := f
	cp.Members = inputs
	return cp
}

func (FullKeyAggregate) NodeName() string { return "FullKeyAggregate" }

func (f FullKeyAggregate) PrettyPrint(state *PrintState) string {
	var b strings.Builder
	b.WriteString(state.line(fmt.Sprintf("FullKeyAggregate[join_dimensions=%v]\n", f.JoinDimensions)))
	child := state.child()
	for _, m := range f.Members {
		b.WriteString(m.PrettyPrint(&child))
	}
	return b.String()
}

// PreAggregation is a leaf node selecting directly from a materialized
// rollup table, substituted in by the pre-aggregation matcher.
type PreAggregation struct {
	TableName      string
	PreAggregation string // the matched pre-aggregation's ID()
}

func (PreAggregation) Inputs() []PlanNode { return nil }

func (p PreAggregation) WithInputs(inputs []PlanNode) PlanNode { return p }

func (PreAggregation) NodeName() string { return "PreAggregation" }

func (p PreAggregation) PrettyPrint(state *PrintState) string {
	return state.line(fmt.Sprintf("PreAggregation[table=%s id=%s]\n", p.TableName, p.PreAggregation))
}

// WrappedSelect is the pushed-down-to-source shape the rewriter
// extracts when a subplan can be fully delegated to one source SELECT
// by the rewriter's extraction and rendered directly by the emitter.
type WrappedSelect struct {
	ProjectionExpr []string
	GroupExpr      []string
	AggrExpr       []string
	WindowExpr     []string
	Joins          []JoinItem
	FilterExpr     string
	HavingExpr     string
	Limit          int
	Offset         int
	OrderExpr      []OrderExpr
	SelectAlias    string
	SelectDistinct bool
	PushToCube     bool
	UngroupedScan  bool
	CubeScanInputs []PlanNode
	Subqueries     []PlanNode
}

func (w WrappedSelect) Inputs() []PlanNode {
	return append(append([]PlanNode{}, w.CubeScanInputs...), w.Subqueries...)
}

func (w WrappedSelect) WithInputs(inputs []PlanNode) PlanNode {
	cp := w
	n := len(w.CubeScanInputs)
	if n > len(inputs) {
		n = len(inputs)
	}
	cp.CubeScanInputs = inputs[:n]
	cp.Subqueries = inputs[n:]
	return cp
}

func (WrappedSelect) NodeName() string { return "WrappedSelect" }

func (w WrappedSelect) PrettyPrint(state *PrintState) string {
	var b strings.Builder
	b.WriteString(state.line(fmt.Sprintf("WrappedSelect[projection=%v distinct=%v push_to_cube=%v]\n", w.ProjectionExpr, w.SelectDistinct, w.PushToCube)))
	child := state.child()
	for _, in := range w.Inputs() {
		b.WriteString(in.PrettyPrint(&child))
	}
	return b.String()
}

// MultiStageKind tags which concrete shape a LogicalMultiStageMember holds.
type MultiStageKind int

const (
	KindLeafMeasure MultiStageKind = iota
	KindMeasureCalculation
	KindGetDateRange
	KindTimeSeries
	KindRollingWindow
)

// CalculationKind selects a MeasureCalculation's operation.
type CalculationKind int

const (
	CalcAggregate CalculationKind = iota
	CalcRank
	CalcCalculate
)

// LogicalMultiStageMember is one node of a multi-stage measure's stage
// DAG: a LeafMeasure grouped subquery, a MeasureCalculation
// wrapping an input with Aggregate/Rank/Calculate semantics, a
// GetDateRange/TimeSeries densified axis, or a RollingWindow join.
type LogicalMultiStageMember struct {
	Kind MultiStageKind

	// LeafMeasure
	Measure  string
	ReduceBy []string

	// MeasureCalculation
	Calculation   CalculationKind
	PartitionBy   []string
	OrderBy       []OrderExpr
	CalculateExpr string

	// TimeSeries / GetDateRange
	TimeDimension string
	Granularity   string
	Inline        bool // true when the dialect's generate_series can be inlined

	// RollingWindow. Series is the densified TimeSeries axis the window
	// frame is computed over; Input is the LeafMeasure CTE it joins
	// against to pull in the measure value for each row inside the frame
	// during the rolling-window stage.
	Trailing string
	Leading  string
	Offset   string
	Series   PlanNode

	Input PlanNode
}

func (m LogicalMultiStageMember) Inputs() []PlanNode {
	var out []PlanNode
	if m.Input != nil {
		out = append(out, m.Input)
	}
	if m.Series != nil {
		out = append(out, m.Series)
	}
	return out
}

func (m LogicalMultiStageMember) WithInputs(inputs []PlanNode) PlanNode {
	cp := m
	if m.Kind == KindRollingWindow {
		if len(inputs) > 0 {
			cp.Input = inputs[0]
		}
		if len(inputs) > 1 {
			cp.Series = inputs[1]
		}
		return cp
	}
	if len(inputs) > 0 {
		cp.Input = inputs[0]
	}
	return cp
}

func (m LogicalMultiStageMember) NodeName() string {
	switch m.Kind {
	case KindLeafMeasure:
		return "LeafMeasure"
	case KindMeasureCalculation:
		return "MeasureCalculation"
	case KindGetDateRange:
		return "GetDateRange"
	case KindTimeSeries:
		return "TimeSeries"
	case KindRollingWindow:
		return "RollingWindow"
	default:
		return "UnknownMultiStageMember"
	}
}

func (m LogicalMultiStageMember) PrettyPrint(state *PrintState) string {
	var b strings.Builder
	switch m.Kind {
	case KindLeafMeasure:
		b.WriteString(state.line(fmt.Sprintf("LeafMeasure[measure=%s reduce_by=%v]\n", m.Measure, m.ReduceBy)))
	case KindMeasureCalculation:
		b.WriteString(state.line(fmt.Sprintf("MeasureCalculation[kind=%d partition_by=%v]\n", m.Calculation, m.PartitionBy)))
	case KindGetDateRange:
		b.WriteString(state.line(fmt.Sprintf("GetDateRange[dimension=%s]\n", m.TimeDimension)))
	case KindTimeSeries:
		b.WriteString(state.line(fmt.Sprintf("TimeSeries[dimension=%s granularity=%s inline=%v]\n", m.TimeDimension, m.Granularity, m.Inline)))
	case KindRollingWindow:
		b.WriteString(state.line(fmt.Sprintf("RollingWindow[trailing=%s leading=%s offset=%s]\n", m.Trailing, m.Leading, m.Offset)))
	}
	if m.Input != nil {
		child := state.child()
		b.WriteString(m.Input.PrettyPrint(&child))
	}
	if m.Series != nil {
		child := state.child()
		b.WriteString(m.Series.PrettyPrint(&child))
	}
	return b.String()
}
