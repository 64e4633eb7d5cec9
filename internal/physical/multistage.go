package physical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/plan"
)

// cteEntry is one WITH-clause binding the multi-stage emitter produces.
type cteEntry struct {
	name string
	sql  string
}

// emitFullKeyAggregate flattens a FullKeyAggregate's member stage DAGs into
// an ordered WITH clause and joins every member's output on JoinDimensions,
// FULL JOIN + COALESCE'd when UseFullJoinAndCoalesce is set so a dimension
// value present in only one stage's result set is not dropped. The CTE list
// that internal/multistage's Build returns is not used by the compiler; this
// walk re-derives the flattened CTE list directly from the PlanNode tree,
// since PlanNode is the single IR this package consumes; multistage.CTE
// never crosses the package boundary.
func (e *Emitter) emitFullKeyAggregate(ctx filter.VisitorContext, fka plan.FullKeyAggregate) (string, string, map[string]string, error) {
	var ctes []cteEntry
	seen := map[string]bool{}
	topNames := make([]string, 0, len(fka.Members))
	refs := map[string]string{}

	for _, m := range fka.Members {
		name, err := e.flattenMultiStage(ctx, m, &ctes, seen)
		if err != nil {
			return "", "", nil, err
		}
		topNames = append(topNames, name)
		for _, full := range topLevelOutputs(m) {
			if alias, ok := e.Refs.Reference(full); ok {
				refs[full] = e.Dialect.QuoteIdentifier(name) + "." + e.Dialect.QuoteIdentifier(alias)
			}
		}
	}
	if len(ctes) == 0 {
		return "", "", nil, cerr.NewInternal("physical: full key aggregate with no members", nil)
	}

	defs := make([]string, len(ctes))
	for i, c := range ctes {
		defs[i] = e.Dialect.QuoteIdentifier(c.name) + " AS (" + c.sql + ")"
	}
	with := "WITH " + strings.Join(defs, ", ") + " "

	from := e.joinCTEChain(topNames, fka.JoinDimensions, fka.UseFullJoinAndCoalesce)
	return with, from, refs, nil
}

// topLevelOutputs returns the member/dimension full names a (possibly
// wrapped) multi-stage stage DAG ultimately projects, by walking through
// pass-through wrapper kinds (MeasureCalculation, RollingWindow, TimeSeries,
// GetDateRange all re-project their input's columns via "SELECT *") down to
// the LeafMeasure or plain Query/WrappedSelect that actually introduces
// them.
func topLevelOutputs(node plan.PlanNode) []string {
	switch n := node.(type) {
	case plan.LogicalMultiStageMember:
		if n.Kind == plan.KindLeafMeasure {
			out := append([]string{}, n.Measure)
			return append(out, n.ReduceBy...)
		}
		if n.Input != nil {
			return topLevelOutputs(n.Input)
		}
		return nil
	case plan.Query:
		out := append([]string{}, n.Measures...)
		out = append(out, n.Dimensions...)
		for _, td := range n.TimeDimensions {
			out = append(out, td.Dimension)
		}
		return out
	default:
		return nil
	}
}

// flattenMultiStage assigns node (and everything it depends on) a CTE name,
// appending each newly-seen stage to ctes in dependency order, and returns
// node's own CTE name.
func (e *Emitter) flattenMultiStage(ctx filter.VisitorContext, node plan.PlanNode, ctes *[]cteEntry, seen map[string]bool) (string, error) {
	m, ok := node.(plan.LogicalMultiStageMember)
	if !ok {
		name := fmt.Sprintf("member_%d", len(*ctes))
		sql, err := e.emitPlainMember(ctx, node)
		if err != nil {
			return "", err
		}
		*ctes = append(*ctes, cteEntry{name: name, sql: sql})
		return name, nil
	}

	var inputName, seriesName string
	if m.Input != nil {
		var err error
		inputName, err = e.flattenMultiStage(ctx, m.Input, ctes, seen)
		if err != nil {
			return "", err
		}
	}
	if m.Series != nil {
		var err error
		seriesName, err = e.flattenMultiStage(ctx, m.Series, ctes, seen)
		if err != nil {
			return "", err
		}
	}

	name := multiStageCTEName(m, len(*ctes))
	if seen[name] {
		return name, nil
	}
	sql, err := e.emitMultiStageNode(ctx, m, inputName, seriesName)
	if err != nil {
		return "", err
	}
	*ctes = append(*ctes, cteEntry{name: name, sql: sql})
	seen[name] = true
	return name, nil
}

func multiStageCTEName(m plan.LogicalMultiStageMember, ordinal int) string {
	base := m.NodeName()
	if m.Measure != "" {
		base = sanitizeAlias(m.Measure) + "_" + base
	} else if m.TimeDimension != "" {
		base = sanitizeAlias(m.TimeDimension) + "_" + base
	}
	return strings.ToLower(base) + "_" + strconv.Itoa(ordinal)
}

func (e *Emitter) emitPlainMember(ctx filter.VisitorContext, node plan.PlanNode) (string, error) {
	switch n := node.(type) {
	case plan.WrappedSelect:
		return e.emitWrappedSelect(ctx, n)
	case plan.Query:
		return e.emitQuery(ctx, n)
	default:
		return "", cerr.NewInternal("physical: no multi-stage member rendering for "+node.NodeName(), nil)
	}
}

func (e *Emitter) emitMultiStageNode(ctx filter.VisitorContext, n plan.LogicalMultiStageMember, inputName, seriesName string) (string, error) {
	switch n.Kind {
	case plan.KindLeafMeasure:
		return e.emitLeafMeasure(ctx, n)
	case plan.KindMeasureCalculation:
		return e.emitMeasureCalculation(n, inputName)
	case plan.KindGetDateRange:
		return e.emitGetDateRange(ctx, n)
	case plan.KindTimeSeries:
		return e.emitTimeSeries(n, inputName)
	case plan.KindRollingWindow:
		return e.emitRollingWindow(n, inputName, seriesName)
	default:
		return "", cerr.NewInternal("physical: unknown multi-stage kind", nil)
	}
}

// emitLeafMeasure groups the measure's own cube by its reduceBy dimensions,
// reusing the regular Query emission path. Any
// measure the calculation stage orders by is projected here too, so the
// window function upstairs can reference it by alias.
func (e *Emitter) emitLeafMeasure(ctx filter.VisitorContext, n plan.LogicalMultiStageMember) (string, error) {
	m, ok := e.Schema.Measure(n.Measure)
	if !ok {
		return "", cerr.NewUnknownMember(n.Measure)
	}
	measures := []string{n.Measure}
	for _, ref := range m.OrderBy {
		if ref != n.Measure && e.Schema.IsMeasure(ref) {
			measures = append(measures, ref)
		}
	}
	q := plan.Query{
		Measures:   measures,
		Dimensions: n.ReduceBy,
		Source:     plan.LogicalJoin{Root: m.Cube},
	}
	return e.emitQuery(ctx, q)
}

// emitMeasureCalculation wraps inputName's result set with a window
// function (Rank), a derived expression (Calculate), or passes it through
// unchanged (Aggregate; the leaf CTE is already grouped by the measure's
// reduceBy (or groupBy) dimensions, so no further reduction is done at this
// stage).
func (e *Emitter) emitMeasureCalculation(n plan.LogicalMultiStageMember, inputName string) (string, error) {
	quotedInput := e.Dialect.QuoteIdentifier(inputName)
	switch n.Calculation {
	case plan.CalcRank:
		partition := quoteIdentList(e.Dialect, n.PartitionBy)
		order := quoteOrderList(e.Dialect, n.OrderBy)
		return fmt.Sprintf(
			"SELECT *, RANK() OVER (PARTITION BY %s ORDER BY %s) AS %s FROM %s",
			partition, order, e.Dialect.QuoteIdentifier("rank_value"), quotedInput,
		), nil
	case plan.CalcCalculate:
		return fmt.Sprintf("SELECT *, (%s) AS %s FROM %s", n.CalculateExpr, e.Dialect.QuoteIdentifier("calculated_value"), quotedInput), nil
	default: // CalcAggregate
		return fmt.Sprintf("SELECT * FROM %s", quotedInput), nil
	}
}

func quoteIdentList(d interface{ QuoteIdentifier(string) string }, names []string) string {
	if len(names) == 0 {
		return "1"
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdentifier(sanitizeAlias(n))
	}
	return strings.Join(out, ", ")
}

func quoteOrderList(d interface{ QuoteIdentifier(string) string }, order []plan.OrderExpr) string {
	if len(order) == 0 {
		return "1"
	}
	out := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		out[i] = d.QuoteIdentifier(sanitizeAlias(o.Symbol)) + " " + dir
	}
	return strings.Join(out, ", ")
}

// emitGetDateRange resolves the min/max bounds of a time dimension across
// its own cube, the axis the densified TimeSeries stage is built from.
func (e *Emitter) emitGetDateRange(ctx filter.VisitorContext, n plan.LogicalMultiStageMember) (string, error) {
	d, ok := e.Schema.Dimension(n.TimeDimension)
	if !ok {
		return "", cerr.NewUnknownMember(n.TimeDimension)
	}
	sym, err := e.compiler.AddAutoResolved(n.TimeDimension)
	if err != nil {
		return "", err
	}
	expr, err := e.visitor.EvaluateSQL(ctx, sym)
	if err != nil {
		return "", err
	}
	from, err := e.emitLogicalJoin(ctx, plan.LogicalJoin{Root: d.Cube})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"SELECT MIN(%s) AS %s, MAX(%s) AS %s FROM %s",
		expr, e.Dialect.QuoteIdentifier("range_from"), expr, e.Dialect.QuoteIdentifier("range_to"), from,
	), nil
}

// emitTimeSeries densifies the date-range CTE into one row per calendar
// bucket at n.Granularity, via the dialect's expressions/time_series
// template.
func (e *Emitter) emitTimeSeries(n plan.LogicalMultiStageMember, inputName string) (string, error) {
	if !e.Dialect.CanRewriteTemplate("expressions/time_series") {
		return "", cerr.NewDialectUnsupported("expressions/time_series")
	}
	quotedInput := e.Dialect.QuoteIdentifier(inputName)
	fromCol := quotedInput + "." + e.Dialect.QuoteIdentifier("range_from")
	toCol := quotedInput + "." + e.Dialect.QuoteIdentifier("range_to")
	series, err := e.Dialect.Render("expressions/time_series", map[string]string{
		"from": fromCol, "to": toCol, "granularity": n.Granularity,
	})
	if err != nil {
		return "", cerr.NewDialectUnsupported("expressions/time_series")
	}
	alias := e.Dialect.QuoteIdentifier(sanitizeAlias(n.TimeDimension))
	return fmt.Sprintf("SELECT %s AS %s FROM %s", series, alias, quotedInput), nil
}

// emitRollingWindow joins the densified series against the leaf measure CTE
// with a trailing/leading frame predicate on the series' bucket column,
// then sums the leaf's measure column across the frame.
func (e *Emitter) emitRollingWindow(n plan.LogicalMultiStageMember, inputName, seriesName string) (string, error) {
	seriesCol := e.Dialect.QuoteIdentifier(seriesName) + "." + e.Dialect.QuoteIdentifier(sanitizeAlias(n.TimeDimension))
	leafTimeCol := e.Dialect.QuoteIdentifier(inputName) + "." + e.Dialect.QuoteIdentifier(sanitizeAlias(n.TimeDimension))
	leafCol := e.Dialect.QuoteIdentifier(inputName) + ".*"

	lower := frameBound(n.Trailing, "-")
	upper := frameBound(n.Leading, "+")

	cond := fmt.Sprintf("%s BETWEEN %s %s AND %s %s", leafTimeCol, seriesCol, lower, seriesCol, upper)
	if n.Offset == "starting" {
		cond = fmt.Sprintf("%s >= %s %s", leafTimeCol, seriesCol, lower)
	}

	selectList := seriesCol + ", " + leafCol
	groupBy := ""
	if leaf, ok := n.Input.(plan.LogicalMultiStageMember); ok {
		if alias, ok := e.Refs.Reference(leaf.Measure); ok {
			measure := e.Dialect.QuoteIdentifier(alias)
			selectList = fmt.Sprintf("%s, SUM(%s.%s) AS %s", seriesCol, e.Dialect.QuoteIdentifier(inputName), measure, measure)
			groupBy = " GROUP BY " + seriesCol
		}
	}

	return fmt.Sprintf(
		"SELECT %s FROM %s LEFT JOIN %s ON %s%s",
		selectList,
		e.Dialect.QuoteIdentifier(seriesName),
		e.Dialect.QuoteIdentifier(inputName),
		cond, groupBy,
	), nil
}

func frameBound(interval, sign string) string {
	if interval == "" {
		return ""
	}
	return fmt.Sprintf("%s interval '%s'", sign, interval)
}

// joinCTEChain builds a left-deep join chain across the named member CTEs,
// keyed on joinDimensions: a plain JOIN, or a FULL JOIN when
// useFullJoinAndCoalesce is set. Each join key is the COALESCE of that
// dimension over the CTEs already joined.
func (e *Emitter) joinCTEChain(names, joinDimensions []string, useFullJoinAndCoalesce bool) string {
	if len(names) == 1 {
		return e.Dialect.QuoteIdentifier(names[0])
	}

	joinKind := "JOIN"
	if useFullJoinAndCoalesce {
		joinKind = "FULL JOIN"
	}

	var b strings.Builder
	b.WriteString(e.Dialect.QuoteIdentifier(names[0]))
	for i := 1; i < len(names); i++ {
		b.WriteString(" ")
		b.WriteString(joinKind)
		b.WriteString(" ")
		b.WriteString(e.Dialect.QuoteIdentifier(names[i]))
		if len(joinDimensions) == 0 {
			b.WriteString(" ON TRUE")
			continue
		}
		var conds []string
		for _, dim := range joinDimensions {
			alias := e.Dialect.QuoteIdentifier(sanitizeAlias(dim))
			lhs := coalesceAcross(e.Dialect, names[:i], alias)
			rhs := e.Dialect.QuoteIdentifier(names[i]) + "." + alias
			conds = append(conds, lhs+" = "+rhs)
		}
		b.WriteString(" ON ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	return b.String()
}

func coalesceAcross(d interface {
	QuoteIdentifier(string) string
}, names []string, col string) string {
	if len(names) == 1 {
		return d.QuoteIdentifier(names[0]) + "." + col
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = d.QuoteIdentifier(n) + "." + col
	}
	return "COALESCE(" + strings.Join(parts, ", ") + ")"
}
