package symbols

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// EvalState is extra per-evaluation state a SqlNode decorator may need that
// does not belong on VisitorContext (which is about rendering, not about
// query-wide substitutions). OriginalSQLTable is set when an `originalSql`
// pre-aggregation is serving the query (decorator #2); RollingWindow is set
// while rendering inside a rolling-window subquery (decorator #9);
// MultiStageCalculating marks a measure currently being emitted as a
// multi-stage calculation rather than its plain leaf form (decorator #11).
type EvalState struct {
	OriginalSQLTable      map[string]string // cube name -> replacement table
	RollingWindow         bool
	UngroupedFinalMeasure bool
	MultiStageCalculating map[string]MultiStageCalcKind
	MultiStagePartitionBy []string
	MultiStageOrderBy     []string
}

// MultiStageCalcKind selects which multi-stage rendering a measure gets
// under decorator #11.
type MultiStageCalcKind int

const (
	MultiStageNone MultiStageCalcKind = iota
	MultiStageRank
	MultiStageWindowAggregate
)

// SqlNode is one decorator of the evaluator's visitor chain.
// TryEmit returns handled=false to defer to the next node in the chain;
// RootNode is the terminal fallback and always returns handled=true.
type SqlNode interface {
	Name() string
	TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (sqlText string, handled bool, err error)
}

// Emitter is the narrow interface a decorator uses to recurse into the rest
// of the chain (its own "next").
type Emitter interface {
	Emit(ctx filter.VisitorContext, sym *Symbol, args []string) (string, error)
}

// chainEmitter adapts a slice position in the node chain into an Emitter.
type chainEmitter struct {
	v     *Visitor
	nodes []SqlNode
}

func (c *chainEmitter) Emit(ctx filter.VisitorContext, sym *Symbol, args []string) (string, error) {
	if len(c.nodes) == 0 {
		return "", cerr.NewInternal("sql node chain exhausted without RootNode", nil)
	}
	head := c.nodes[0]
	next := &chainEmitter{v: c.v, nodes: c.nodes[1:]}
	out, handled, err := head.TryEmit(c.v, ctx, sym, args, next)
	if err != nil {
		return "", err
	}
	if handled {
		return out, nil
	}
	return next.Emit(ctx, sym, args)
}

// Visitor is the SqlEvaluatorVisitor: it walks the symbol graph in
// post-order, evaluating each dependency before its dependents, and renders
// every visited symbol through the fixed 11-node decorator chain. One
// Visitor is scoped to a single compile() call.
type Visitor struct {
	Compiler *Compiler
	Dialect  *dialect.TemplateSet
	State    EvalState

	inProgress map[string]bool
	chain      []SqlNode
}

// NewVisitor builds the visitor with the required 11 decorators in the
// order the evaluator requires.
func NewVisitor(c *Compiler, d *dialect.TemplateSet) *Visitor {
	v := &Visitor{Compiler: c, Dialect: d, inProgress: map[string]bool{}}
	v.chain = []SqlNode{
		&originalSQLPreAggregationNode{},
		&caseDimensionNode{},
		&geoDimensionNode{},
		&timeDimensionNode{},
		&timeShiftSQLNode{},
		&calendarTimeShiftSQLNode{},
		&measureFilterNode{},
		&rollingWindowNode{},
		&ungroupedQueryFinalMeasureNode{},
		&multiStageNode{},
		&rootNode{}, // terminal default dispatch
	}
	return v
}

// EvaluateSQL is the public contract's evaluate_sql: render sym's SQL under
// ctx, first evaluating each dependency (post-order) and passing the results
// positionally as args.
func (v *Visitor) EvaluateSQL(ctx filter.VisitorContext, sym *Symbol) (string, error) {
	if frag, ok := ctx.RenderReference(sym.FullName()); ok {
		return frag, nil
	}

	if v.inProgress[sym.FullName()] {
		return "", cerr.NewCycleDetected(sym.FullName())
	}
	v.inProgress[sym.FullName()] = true
	defer delete(v.inProgress, sym.FullName())

	deps := sym.GetDependencies(v.Compiler)
	args := make([]string, len(deps))
	for i, dep := range deps {
		frag, err := v.EvaluateSQL(ctx, dep)
		if err != nil {
			return "", err
		}
		args[i] = frag
	}

	emitter := &chainEmitter{v: v, nodes: v.chain}
	return emitter.Emit(ctx, sym, args)
}

// substitutePlaceholders replaces each {cube.member} reference in body with
// the already-rendered fragment of the matching dependency, taken
// positionally from args (rendered in post-order).
func (v *Visitor) substitutePlaceholders(body string, sym *Symbol, args []string) string {
	out := body
	for i, ref := range sym.argNames {
		out = strings.ReplaceAll(out, "{"+ref+"}", args[i])
	}
	return out
}

func (v *Visitor) cubeAlias(ctx filter.VisitorContext, cube string) string {
	if ctx.AliasPrefix != "" {
		return ctx.AliasPrefix + cube
	}
	return cube
}

// ---- decorator #1 (terminal default) --------------------------------------

type rootNode struct{}

func (rootNode) Name() string { return "RootNode" }

func (rootNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, _ Emitter) (string, bool, error) {
	alias := v.cubeAlias(ctx, sym.CubeName())
	switch sym.Kind {
	case KindCubeName, KindCubeTable:
		return v.Dialect.QuoteIdentifier(alias), true, nil
	case KindMeasure:
		body := sym.Measure.SQL
		if body == "" {
			body = "*"
		}
		expr := v.substitutePlaceholders(body, sym, args)
		agg, err := renderAggregate(v.Dialect, sym.Measure.Type, expr)
		if err != nil {
			return "", false, err
		}
		return agg, true, nil
	case KindDimension, KindTimeDimension:
		if sym.Dimension.SQL == "" {
			return v.Dialect.QuoteIdentifier(alias) + "." + v.Dialect.QuoteIdentifier(sym.Name()), true, nil
		}
		return v.substitutePlaceholders(sym.Dimension.SQL, sym, args), true, nil
	default:
		return v.substitutePlaceholders("", sym, args), true, nil
	}
}

func renderAggregate(d *dialect.TemplateSet, t schema.MeasureType, expr string) (string, error) {
	switch t {
	case schema.MeasureCount:
		if expr == "*" || expr == "" {
			return "COUNT(*)", nil
		}
		return fmt.Sprintf("COUNT(%s)", expr), nil
	case schema.MeasureSum:
		return fmt.Sprintf("SUM(%s)", expr), nil
	case schema.MeasureAvg:
		return fmt.Sprintf("AVG(%s)", expr), nil
	case schema.MeasureMin:
		return fmt.Sprintf("MIN(%s)", expr), nil
	case schema.MeasureMax:
		return fmt.Sprintf("MAX(%s)", expr), nil
	case schema.MeasureCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", expr), nil
	case schema.MeasureCountDistinctApprox:
		return fmt.Sprintf("APPROX_COUNT_DISTINCT(%s)", expr), nil
	case schema.MeasureNumber, schema.MeasureRunningTotal, schema.MeasureRank:
		return expr, nil
	default:
		return "", cerr.NewInternal("unknown measure type "+string(t), nil)
	}
}

// ---- decorator #2 ----------------------------------------------------------

type originalSQLPreAggregationNode struct{}

func (originalSQLPreAggregationNode) Name() string { return "OriginalSqlPreAggregationNode" }

func (originalSQLPreAggregationNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if v.State.OriginalSQLTable == nil || sym.Kind != KindCubeTable {
		return "", false, nil
	}
	if table, ok := v.State.OriginalSQLTable[sym.CubeName()]; ok {
		return v.Dialect.QuoteIdentifier(table), true, nil
	}
	return "", false, nil
}

// ---- decorator #3 -----------------------------------------------------------

type caseDimensionNode struct{}

func (caseDimensionNode) Name() string { return "CaseDimensionNode" }

func (caseDimensionNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindDimension || sym.Dimension == nil || len(sym.Dimension.Case) == 0 {
		return "", false, nil
	}
	var b strings.Builder
	for _, branch := range sym.Dimension.Case {
		whenThen, err := v.Dialect.Render("expressions/case_when", map[string]string{
			"cond": branch.When, "result": branch.Then,
		})
		if err != nil {
			return "", false, err
		}
		b.WriteString(whenThen)
		b.WriteString(" ")
	}
	elseClause := ""
	if sym.Dimension.CaseElse != "" {
		rendered, err := v.Dialect.Render("expressions/case_else", map[string]string{"result": sym.Dimension.CaseElse})
		if err != nil {
			return "", false, err
		}
		elseClause = rendered
	}
	out, err := v.Dialect.Render("expressions/case", map[string]string{
		"when_then": b.String(), "else": elseClause,
	})
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// ---- decorator #4 -----------------------------------------------------------

type geoDimensionNode struct{}

func (geoDimensionNode) Name() string { return "GeoDimensionNode" }

func (geoDimensionNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindDimension || sym.Dimension == nil || sym.Dimension.Type != schema.DimensionGeo {
		return "", false, nil
	}
	out, err := v.Dialect.Render("expressions/concat", map[string]string{
		"args": sym.Dimension.Latitude + ", ',', " + sym.Dimension.Longitude,
	})
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// ---- decorator #5 -----------------------------------------------------------

type timeDimensionNode struct{}

func (timeDimensionNode) Name() string { return "TimeDimensionNode" }

func (timeDimensionNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindTimeDimension || sym.Granularity == "" {
		return "", false, nil
	}
	// Defer to the rest of the chain first so TimeShiftSqlNode and
	// CalendarTimeShiftSqlNode get a chance to shift the raw column before
	// this node buckets it by granularity (a time
	// dimension's shift applies to the instant, truncation applies last).
	raw, err := next.Emit(ctx, sym, args)
	if err != nil {
		return "", false, err
	}
	out, err := v.Dialect.Render("expressions/date_trunc", map[string]string{
		"granularity": sym.Granularity, "expr": raw,
	})
	if err != nil {
		return "", false, cerr.NewDialectUnsupported("expressions/date_trunc")
	}
	return out, true, nil
}

// ---- decorator #6 -----------------------------------------------------------

type timeShiftSQLNode struct{}

func (timeShiftSQLNode) Name() string { return "TimeShiftSqlNode" }

func (timeShiftSQLNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindTimeDimension || ctx.TimeShiftInterval == "" {
		return "", false, nil
	}
	if sym.Dimension != nil && calendarShiftFor(sym.Dimension.TimeShift, ctx) != nil {
		// A calendar-defined substitute covers this shift; no arithmetic
		// on top of it.
		return "", false, nil
	}
	base, err := next.Emit(ctx, sym, args)
	if err != nil {
		return "", false, err
	}
	out, err := v.Dialect.Render("expressions/time_shift", map[string]string{
		"expr": base, "interval": ctx.TimeShiftInterval,
	})
	if err != nil {
		return "", false, cerr.NewDialectUnsupported("expressions/time_shift")
	}
	return out, true, nil
}

// ---- decorator #7 -----------------------------------------------------------

type calendarTimeShiftSQLNode struct{}

func (calendarTimeShiftSQLNode) Name() string { return "CalendarTimeShiftSqlNode" }

func (calendarTimeShiftSQLNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindTimeDimension || sym.Dimension == nil || len(sym.Dimension.TimeShift) == 0 {
		return "", false, nil
	}
	var intervalMatch, namedMatch *schema.TimeShift
	for i := range sym.Dimension.TimeShift {
		ts := &sym.Dimension.TimeShift[i]
		if ts.Interval != "" && ts.Interval == ctx.TimeShiftInterval {
			intervalMatch = ts
		}
		if ts.Name != "" && ts.Name == ctx.TimeShiftName {
			namedMatch = ts
		}
	}
	if intervalMatch != nil && namedMatch != nil && intervalMatch != namedMatch {
		// Ambiguous when both a named and an interval shift resolve for
		// the same dimension. Resolved conservatively: surface
		// InvalidMultiStage rather than guess.
		return "", false, cerr.NewInvalidMultiStage(sym.FullName(), "both a named and an interval time shift resolved")
	}
	match := namedMatch
	if match == nil {
		match = intervalMatch
	}
	if match == nil {
		return "", false, nil
	}
	base, err := next.Emit(ctx, sym, args)
	if err != nil {
		return "", false, err
	}
	if match.SQL != "" {
		// The calendar defines the shifted expression itself; substitute
		// it in place of the dimension's expansion.
		return strings.ReplaceAll(match.SQL, "{expr}", base), true, nil
	}
	// A named shift without substitute SQL redirects to the calendar's own
	// dimension evaluation rather than an arithmetic interval add.
	return base, true, nil
}

// calendarShiftFor returns the dimension's calendar-defined shift carrying
// substitute SQL whose interval or name matches the active shift, if any.
func calendarShiftFor(shifts []schema.TimeShift, ctx filter.VisitorContext) *schema.TimeShift {
	for i := range shifts {
		ts := &shifts[i]
		if ts.SQL == "" {
			continue
		}
		if (ts.Interval != "" && ts.Interval == ctx.TimeShiftInterval) ||
			(ts.Name != "" && ts.Name == ctx.TimeShiftName) {
			return ts
		}
	}
	return nil
}

// ---- decorator #8 -----------------------------------------------------------

type measureFilterNode struct{}

func (measureFilterNode) Name() string { return "MeasureFilterNode" }

func (measureFilterNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindMeasure || sym.Measure == nil || len(sym.Measure.Filters) == 0 {
		return "", false, nil
	}
	inner, err := next.Emit(ctx, sym, args)
	if err != nil {
		return "", false, err
	}
	var conds []string
	for _, f := range sym.Measure.Filters {
		conds = append(conds, f.SQL)
	}
	whenThen, err := v.Dialect.Render("expressions/case_when", map[string]string{
		"cond": strings.Join(conds, " AND "), "result": inner,
	})
	if err != nil {
		return "", false, err
	}
	out, err := v.Dialect.Render("expressions/case", map[string]string{"when_then": whenThen, "else": ""})
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// ---- decorator #9 -----------------------------------------------------------

type rollingWindowNode struct{}

func (rollingWindowNode) Name() string { return "RollingWindowNode" }

func (rollingWindowNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if !v.State.RollingWindow || sym.Kind != KindMeasure {
		return "", false, nil
	}
	switch sym.Measure.Type {
	case schema.MeasureCount:
		inner := sym
		cp := *inner
		cp.Measure = &schema.Measure{Cube: inner.Measure.Cube, Name: inner.Measure.Name, Type: schema.MeasureSum, SQL: inner.Measure.SQL}
		return rootNode{}.TryEmit(v, ctx, &cp, args, next)
	case schema.MeasureCountDistinctApprox:
		body := sym.Measure.SQL
		expr := v.substitutePlaceholders(body, sym, args)
		out, err := v.Dialect.Render("expressions/hll_merge", map[string]string{"expr": expr})
		if err != nil {
			return "", false, cerr.NewDialectUnsupported("expressions/hll_merge")
		}
		return out, true, nil
	default:
		return "", false, nil
	}
}

// ---- decorator #10 ----------------------------------------------------------

type ungroupedQueryFinalMeasureNode struct{}

func (ungroupedQueryFinalMeasureNode) Name() string { return "UngroupedQueryFinalMeasureNode" }

func (ungroupedQueryFinalMeasureNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if !ctx.Ungrouped || !v.State.UngroupedFinalMeasure || sym.Kind != KindMeasure {
		return "", false, nil
	}
	switch sym.Measure.Type {
	case schema.MeasureCount, schema.MeasureCountDistinct, schema.MeasureCountDistinctApprox:
		body := v.substitutePlaceholders(sym.Measure.SQL, sym, args)
		whenThen, err := v.Dialect.Render("expressions/case_when", map[string]string{"cond": body + " IS NOT NULL", "result": "1"})
		if err != nil {
			return "", false, err
		}
		out, err := v.Dialect.Render("expressions/case", map[string]string{"when_then": whenThen, "else": ""})
		if err != nil {
			return "", false, err
		}
		return out, true, nil
	default:
		return "", false, nil
	}
}

// ---- decorator #11 ----------------------------------------------------------

type multiStageNode struct{}

func (multiStageNode) Name() string { return "MultiStageRankNode/MultiStageWindowNode" }

func (multiStageNode) TryEmit(v *Visitor, ctx filter.VisitorContext, sym *Symbol, args []string, next Emitter) (string, bool, error) {
	if sym.Kind != KindMeasure || v.State.MultiStageCalculating == nil {
		return "", false, nil
	}
	kind, ok := v.State.MultiStageCalculating[sym.FullName()]
	if !ok || kind == MultiStageNone {
		return "", false, nil
	}
	partition := strings.Join(v.State.MultiStagePartitionBy, ", ")
	order := strings.Join(v.State.MultiStageOrderBy, ", ")
	switch kind {
	case MultiStageRank:
		return fmt.Sprintf("RANK() OVER (PARTITION BY %s ORDER BY %s)", partition, order), true, nil
	case MultiStageWindowAggregate:
		inner, err := next.Emit(ctx, sym, args)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s OVER (PARTITION BY %s)", inner, partition), true, nil
	default:
		return "", false, nil
	}
}
