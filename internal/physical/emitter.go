package physical

import (
	"strconv"
	"strings"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
	"github.com/canonica-labs/cubecompile/internal/symbols"
)

// Emitter is the physical plan builder: a single post-order walk over a
// plan.PlanNode tree that renders each node to SQL text via the dialect's
// templates and the symbol evaluator, accumulating literal parameters in
// a ParamsAllocator and output-column aliases in a ReferencesBuilder.
type Emitter struct {
	Dialect *dialect.TemplateSet
	Schema  *schema.Schema
	Params  *ParamsAllocator
	Refs    *ReferencesBuilder

	compiler *symbols.Compiler
	visitor  *symbols.Visitor
}

// NewEmitter builds an emitter scoped to a single compile() call, matching
// the per-query lifetime of the symbols.Compiler it wraps.
func NewEmitter(s *schema.Schema, d *dialect.TemplateSet) *Emitter {
	compiler := symbols.NewCompiler(s)
	return &Emitter{
		Dialect:  d,
		Schema:   s,
		Params:   NewParamsAllocator(),
		Refs:     NewReferencesBuilder(),
		compiler: compiler,
		visitor:  symbols.NewVisitor(compiler, d),
	}
}

// Emit renders q to a final, dialect-native SQL statement and its bound
// parameter vector.
func (e *Emitter) Emit(q plan.Query) (string, []Value, error) {
	sql, err := e.emitQuery(filter.VisitorContext{}, q)
	if err != nil {
		return "", nil, err
	}
	finalSQL, params := e.Params.Rewrite(sql, string(e.Dialect.Name))
	return finalSQL, params, nil
}

// emitQuery renders a plan.Query: it resolves the FROM clause from q.Source
// (whatever shape rewriting, pre-aggregation matching, and multi-stage
// planning left it in), then assembles the surrounding
// SELECT/WHERE/GROUP BY/ORDER BY/LIMIT/OFFSET through the dialect's
// statements/select template.
func (e *Emitter) emitQuery(ctx filter.VisitorContext, q plan.Query) (string, error) {
	switch src := q.Source.(type) {
	case plan.WrappedSelect:
		// Fully pushed down to the source: the WrappedSelect already carries
		// its own projection/group/filter, nothing from the wrapping Query
		// applies.
		return e.emitWrappedSelect(ctx, src)

	case plan.FullKeyAggregate:
		withClause, fromExpr, refs, err := e.emitFullKeyAggregate(ctx, src)
		if err != nil {
			return "", err
		}
		outerCtx := ctx
		for full, colRef := range refs {
			outerCtx = outerCtx.WithRenderReference(full, colRef)
		}
		body, err := e.emitSelectOver(outerCtx, q, fromExpr)
		if err != nil {
			return "", err
		}
		if withClause == "" {
			return body, nil
		}
		return withClause + body, nil

	default:
		from, err := e.emitFrom(ctx, q.Source)
		if err != nil {
			return "", err
		}
		return e.emitSelectOver(ctx, q, from)
	}
}

// emitFrom renders the FROM-clause source for a Query whose Source is a
// LogicalJoin or a PreAggregation leaf.
func (e *Emitter) emitFrom(ctx filter.VisitorContext, src plan.PlanNode) (string, error) {
	switch n := src.(type) {
	case plan.LogicalJoin:
		return e.emitLogicalJoin(ctx, n)
	case plan.PreAggregation:
		return e.Dialect.QuoteIdentifier(n.TableName), nil
	case plan.ResolveMultipliedMeasures:
		return e.emitResolveMultipliedMeasures(ctx, n)
	default:
		return "", cerr.NewInternal("physical: no FROM rendering for plan node "+src.NodeName(), nil)
	}
}

// emitLogicalJoin renders the root cube plus its left-join chain
// (root cube first, one left join per item).
func (e *Emitter) emitLogicalJoin(ctx filter.VisitorContext, j plan.LogicalJoin) (string, error) {
	rootCube, ok := e.Schema.Cube(j.Root)
	if !ok {
		return "", cerr.NewUnknownMember(j.Root)
	}
	var b strings.Builder
	b.WriteString(sourceExpr(rootCube))
	b.WriteString(" AS ")
	b.WriteString(e.Dialect.QuoteIdentifier(j.Root))

	for _, item := range j.Items {
		cube, ok := e.Schema.Cube(item.Cube)
		if !ok {
			return "", cerr.NewUnknownMember(item.Cube)
		}
		onSQL, err := e.renderJoinOn(ctx, item.OnSQL)
		if err != nil {
			return "", err
		}
		b.WriteString(" LEFT JOIN ")
		b.WriteString(sourceExpr(cube))
		b.WriteString(" AS ")
		b.WriteString(e.Dialect.QuoteIdentifier(item.Cube))
		b.WriteString(" ON ")
		b.WriteString(onSQL)
	}
	return b.String(), nil
}

func sourceExpr(c *schema.Cube) string {
	return c.Source()
}

// renderJoinOn substitutes {cube.member} placeholders in a join's declared
// ON-clause SQL with each member's rendered column expression, the same
// placeholder convention schema sql bodies use.
func (e *Emitter) renderJoinOn(ctx filter.VisitorContext, onSQL string) (string, error) {
	refs := symbols.ArgsNames(onSQL)
	out := onSQL
	for _, ref := range refs {
		sym, err := e.compiler.AddAutoResolved(ref)
		if err != nil {
			return "", err
		}
		frag, err := e.visitor.EvaluateSQL(ctx, sym)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, "{"+ref+"}", frag)
	}
	return out, nil
}

// emitSelectOver assembles the outer SELECT around an already-rendered FROM
// expression, using q's measures/dimensions/time dimensions/filters/order/
// limit. GROUP BY is emitted whenever there is at least one measure, at least
// one dimension or time dimension to group by, and the query is not
// ungrouped.
func (e *Emitter) emitSelectOver(ctx filter.VisitorContext, q plan.Query, from string) (string, error) {
	var projection, groupBy []string

	for _, dim := range q.Dimensions {
		sym, err := e.compiler.AddAutoResolved(dim)
		if err != nil {
			return "", err
		}
		sym = symbols.ApplyStaticFilterToSymbol(e.compiler, sym, q.Filters)
		expr, err := e.visitor.EvaluateSQL(ctx, sym)
		if err != nil {
			return "", err
		}
		alias := e.Refs.Alias(dim)
		projection = append(projection, expr+" AS "+e.Dialect.QuoteIdentifier(alias))
		groupBy = append(groupBy, expr)
	}

	for _, td := range q.TimeDimensions {
		sym, err := e.compiler.ResolveTimeDimension(td.Dimension, td.Granularity)
		if err != nil {
			return "", err
		}
		expr, err := e.visitor.EvaluateSQL(ctx, sym)
		if err != nil {
			return "", err
		}
		alias := e.Refs.Alias(td.Dimension + "@" + td.Granularity)
		projection = append(projection, expr+" AS "+e.Dialect.QuoteIdentifier(alias))
		groupBy = append(groupBy, expr)
	}

	for _, m := range q.Measures {
		sym, err := e.compiler.AddAutoResolved(m)
		if err != nil {
			return "", err
		}
		expr, err := e.visitor.EvaluateSQL(ctx, sym)
		if err != nil {
			return "", err
		}
		alias := e.Refs.Alias(m)
		projection = append(projection, expr+" AS "+e.Dialect.QuoteIdentifier(alias))
	}

	where := ""
	if q.Filters != nil {
		cond, err := e.emitFilter(ctx, q.Filters)
		if err != nil {
			return "", err
		}
		if cond != "" {
			where = " WHERE " + cond
		}
	}
	for _, td := range q.TimeDimensions {
		clause, err := e.emitDateRangeBounds(ctx, td)
		if err != nil {
			return "", err
		}
		if clause == "" {
			continue
		}
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}

	groupByClause := ""
	if len(q.Measures) > 0 && !q.Ungrouped && len(groupBy) > 0 {
		groupByClause = " GROUP BY " + strings.Join(groupBy, ", ")
	}

	orderByClause := ""
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			alias, ok := e.Refs.Reference(o.Symbol)
			if !ok {
				alias = sanitizeAlias(o.Symbol)
			}
			parts[i] = e.Dialect.QuoteIdentifier(alias) + " " + dir
		}
		orderByClause = " ORDER BY " + strings.Join(parts, ", ")
	}

	limitClause := ""
	if q.Limit > 0 {
		limitClause = " LIMIT " + strconv.Itoa(q.Limit)
	}
	offsetClause := ""
	if q.Offset > 0 {
		offsetClause = " OFFSET " + strconv.Itoa(q.Offset)
	}

	selectList := strings.Join(projection, ", ")
	if selectList == "" {
		selectList = "*"
	}

	return e.Dialect.Render("statements/select", map[string]string{
		"select":  selectList,
		"from":    from,
		"where":   where,
		"groupby": groupByClause,
		"having":  "",
		"orderby": orderByClause,
		"limit":   limitClause,
		"offset":  offsetClause,
	})
}

// emitDateRangeBounds parameterizes a TimeDimensionSelection's optional
// DateRangeFrom/DateRangeTo into a BETWEEN-style predicate bound through the
// ParamsAllocator rather than inlined.
func (e *Emitter) emitDateRangeBounds(ctx filter.VisitorContext, td plan.TimeDimensionSelection) (string, error) {
	if td.DateRangeFrom == "" && td.DateRangeTo == "" {
		return "", nil
	}
	sym, err := e.compiler.AddAutoResolved(td.Dimension)
	if err != nil {
		return "", err
	}
	// Date-range filtering applies to the raw instant, not the
	// granularity-bucketed projection, so this is evaluated with no
	// granularity set.
	cp := *sym
	expr, err := e.visitor.EvaluateSQL(ctx, &cp)
	if err != nil {
		return "", err
	}
	switch {
	case td.DateRangeFrom != "" && td.DateRangeTo != "":
		lo := e.Params.Allocate(StringValue(td.DateRangeFrom))
		hi := e.Params.Allocate(StringValue(td.DateRangeTo))
		return expr + " BETWEEN " + lo + " AND " + hi, nil
	case td.DateRangeFrom != "":
		lo := e.Params.Allocate(StringValue(td.DateRangeFrom))
		return expr + " >= " + lo, nil
	default:
		hi := e.Params.Allocate(StringValue(td.DateRangeTo))
		return expr + " <= " + hi, nil
	}
}

// emitWrappedSelect renders an extracted, fully-pushed-down select node
// directly from its own fields, recursing into nested CubeScanInputs
// as produced by the rewriter's extraction.
func (e *Emitter) emitWrappedSelect(ctx filter.VisitorContext, w plan.WrappedSelect) (string, error) {
	if w.PushToCube && len(w.CubeScanInputs) == 0 && w.SelectAlias != "" {
		cube, ok := e.Schema.Cube(w.SelectAlias)
		if !ok {
			return "", cerr.NewUnknownMember(w.SelectAlias)
		}
		return sourceExpr(cube) + " AS " + e.Dialect.QuoteIdentifier(w.SelectAlias), nil
	}

	var from []string
	for _, in := range w.CubeScanInputs {
		child, ok := in.(plan.WrappedSelect)
		if !ok {
			return "", cerr.NewInternal("physical: WrappedSelect input is not a WrappedSelect", nil)
		}
		rendered, err := e.emitWrappedSelect(ctx, child)
		if err != nil {
			return "", err
		}
		from = append(from, rendered)
	}

	selectList := strings.Join(w.ProjectionExpr, ", ")
	if selectList == "" {
		selectList = "*"
	}
	fromClause := strings.Join(from, ", ")

	where := ""
	if w.FilterExpr != "" {
		where = " WHERE " + w.FilterExpr
	}
	groupBy := ""
	if len(w.GroupExpr) > 0 {
		groupBy = " GROUP BY " + strings.Join(w.GroupExpr, ", ")
	}
	having := ""
	if w.HavingExpr != "" {
		having = " HAVING " + w.HavingExpr
	}
	orderBy := ""
	if len(w.OrderExpr) > 0 {
		parts := make([]string, len(w.OrderExpr))
		for i, o := range w.OrderExpr {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = o.Symbol + " " + dir
		}
		orderBy = " ORDER BY " + strings.Join(parts, ", ")
	}
	limit := ""
	if w.Limit > 0 {
		limit = " LIMIT " + strconv.Itoa(w.Limit)
	}
	offset := ""
	if w.Offset > 0 {
		offset = " OFFSET " + strconv.Itoa(w.Offset)
	}

	rendered, err := e.Dialect.Render("statements/select", map[string]string{
		"select": selectList, "from": fromClause, "where": where,
		"groupby": groupBy, "having": having, "orderby": orderBy,
		"limit": limit, "offset": offset,
	})
	if err != nil {
		return "", err
	}
	if w.SelectDistinct {
		rendered = strings.Replace(rendered, "SELECT ", "SELECT DISTINCT ", 1)
	}
	if w.SelectAlias != "" {
		return "(" + rendered + ") AS " + e.Dialect.QuoteIdentifier(w.SelectAlias), nil
	}
	return "(" + rendered + ")", nil
}

// emitResolveMultipliedMeasures splits a fan-out-prone measure set into one
// deduplicated subquery per group, joined back on the input source. Each
// group becomes its own derived table so a one-to-many
// join cannot double count an aggregate computed before the fan-out.
func (e *Emitter) emitResolveMultipliedMeasures(ctx filter.VisitorContext, r plan.ResolveMultipliedMeasures) (string, error) {
	baseFrom, err := e.emitFrom(ctx, r.Input)
	if err != nil {
		return "", err
	}
	if len(r.Groups) == 0 {
		return baseFrom, nil
	}

	var parts []string
	for _, g := range r.Groups {
		q := plan.Query{Measures: g.Measures, Source: plan.LogicalJoin{Root: g.Cube}}
		sub, err := e.emitSelectOver(ctx, q, baseFrom)
		if err != nil {
			return "", err
		}
		alias := sanitizeAlias(g.Cube) + "_measures"
		if g.Multiplied {
			sub = strings.Replace(sub, "SELECT ", "SELECT DISTINCT ", 1)
		}
		parts = append(parts, "("+sub+") AS "+e.Dialect.QuoteIdentifier(alias))
	}
	return strings.Join(parts, ", "), nil
}

// emitFilter renders a filter.Item tree to a boolean SQL predicate,
// allocating a parameter placeholder for every literal value rather than
// inlining it. Segment leaves resolve to the named
// member's own SQL body, treated as a ready-made boolean expression.
func (e *Emitter) emitFilter(ctx filter.VisitorContext, item filter.Item) (string, error) {
	switch n := item.(type) {
	case filter.ValueItem:
		return e.emitValueItem(ctx, n)
	case filter.Group:
		if len(n.Items) == 0 {
			return "", nil
		}
		parts := make([]string, 0, len(n.Items))
		for _, child := range n.Items {
			rendered, err := e.emitFilter(ctx, child)
			if err != nil {
				return "", err
			}
			if rendered != "" {
				parts = append(parts, rendered)
			}
		}
		joiner := " AND "
		if n.Kind == filter.GroupOr {
			joiner = " OR "
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	case filter.Segment:
		sym, err := e.compiler.AddAutoResolved(n.Symbol)
		if err != nil {
			return "", err
		}
		return e.visitor.EvaluateSQL(ctx, sym)
	default:
		return "", cerr.NewInternal("physical: unknown filter item kind", nil)
	}
}

func (e *Emitter) emitValueItem(ctx filter.VisitorContext, n filter.ValueItem) (string, error) {
	sym, err := e.compiler.AddAutoResolved(n.Symbol)
	if err != nil {
		return "", err
	}
	// A value restriction specializes its own symbol: rows on a dropped
	// CASE branch fail the predicate with or without the branch present.
	sym = symbols.ApplyStaticFilterToSymbol(e.compiler, sym, n)
	expr, err := e.visitor.EvaluateSQL(ctx, sym)
	if err != nil {
		return "", err
	}

	switch n.Op {
	case filter.OpSet:
		return expr + " IS NOT NULL", nil
	case filter.OpNotSet:
		return expr + " IS NULL", nil
	case filter.OpContains:
		ph := e.Params.Allocate(StringValue("%" + firstValue(n.Values) + "%"))
		return expr + " LIKE " + ph, nil
	case filter.OpIn, filter.OpNotIn:
		phs := make([]string, len(n.Values))
		for i, v := range n.Values {
			phs[i] = e.Params.Allocate(NumberValue(v))
		}
		tmpl := "expressions/in"
		if n.Op == filter.OpNotIn {
			tmpl = "expressions/not_in"
		}
		return e.Dialect.Render(tmpl, map[string]string{"lhs": expr, "rhs": strings.Join(phs, ", ")})
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		ph := e.Params.Allocate(NumberValue(firstValue(n.Values)))
		return expr + " " + comparisonOperator(n.Op) + " " + ph, nil
	default: // OpEquals, OpNotEquals
		ph := e.Params.Allocate(NumberValue(firstValue(n.Values)))
		tmpl := "expressions/equals"
		if n.Op == filter.OpNotEquals {
			tmpl = "expressions/not_equals"
		}
		return e.Dialect.Render(tmpl, map[string]string{"lhs": expr, "rhs": ph})
	}
}

func comparisonOperator(op filter.Op) string {
	switch op {
	case filter.OpGt:
		return ">"
	case filter.OpGte:
		return ">="
	case filter.OpLt:
		return "<"
	default:
		return "<="
	}
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
