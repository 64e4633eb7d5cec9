package symbols

import (
	"errors"
	"strings"
	"testing"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func visitorSchema(t *testing.T) *schema.Schema {
	t.Helper()
	doc := schema.Document{Cubes: []schema.Cube{
		{
			Name:     "Orders",
			SQLTable: "public.orders",
			Dimensions: []schema.Dimension{
				{Name: "status", Type: schema.DimensionString},
				{Name: "createdAt", Type: schema.DimensionTime, SQL: "created_at"},
				{Name: "tier", Type: schema.DimensionString, SQL: "x", CaseElse: "'none'", Case: []schema.CaseBranch{
					{When: "amount > 100", Then: "'big'"},
					{When: "amount <= 100", Then: "'small'"},
				}},
				{Name: "location", Type: schema.DimensionGeo, Latitude: "lat", Longitude: "lon"},
				{Name: "fiscalDate", Type: schema.DimensionTime, SQL: "fiscal_date", TimeShift: []schema.TimeShift{
					{Interval: "-1 month"},
					{Name: "fiscal"},
				}},
				{Name: "calDate", Type: schema.DimensionTime, SQL: "cal_date", TimeShift: []schema.TimeShift{
					{Name: "fiscal", SQL: "calendar.fiscal_date_prev"},
					{Name: "lastYear", SQL: "{expr} - interval '1 year'"},
				}},
				{Name: "monthShifted", Type: schema.DimensionTime, SQL: "created_at", TimeShift: []schema.TimeShift{
					{Interval: "-1 month", SQL: "calendar.prev_month_date"},
				}},
			},
			Measures: []schema.Measure{
				{Name: "count", Type: schema.MeasureCount},
				{Name: "total", Type: schema.MeasureSum, SQL: "amount"},
				{Name: "derivedTotal", Type: schema.MeasureNumber, SQL: "{CUBE.total} * 2"},
				{Name: "paidCount", Type: schema.MeasureCount, SQL: "id", Filters: []schema.MeasureFilter{{SQL: "status = 'paid'"}}},
				{Name: "itemCount", Type: schema.MeasureCount, SQL: "amount"},
				{Name: "salesRank", Type: schema.MeasureRank, SQL: "sales", MultiStage: true},
				{Name: "cycleA", Type: schema.MeasureNumber, SQL: "{CUBE.cycleB}"},
				{Name: "cycleB", Type: schema.MeasureNumber, SQL: "{CUBE.cycleA}"},
			},
		},
	}}
	s, err := schema.New(doc)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return s
}

func newTestVisitor(t *testing.T, s *schema.Schema) (*Compiler, *Visitor) {
	t.Helper()
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New() error: %v", err)
	}
	c := NewCompiler(s)
	return c, NewVisitor(c, d)
}

func mustEvaluate(t *testing.T, c *Compiler, v *Visitor, ctx filter.VisitorContext, fullName string) string {
	t.Helper()
	sym, err := c.AddAutoResolved(fullName)
	if err != nil {
		t.Fatalf("AddAutoResolved(%s) error: %v", fullName, err)
	}
	sql, err := v.EvaluateSQL(ctx, sym)
	if err != nil {
		t.Fatalf("EvaluateSQL(%s) error: %v", fullName, err)
	}
	return sql
}

func TestRootNodeQuotesBareDimensionColumn(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.status")
	if got != `"Orders"."status"` {
		t.Fatalf("EvaluateSQL(status) = %q", got)
	}
}

func TestRootNodeRendersMeasureAggregates(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	if got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.count"); got != "COUNT(*)" {
		t.Fatalf("EvaluateSQL(count) = %q", got)
	}
	if got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.total"); got != "SUM(amount)" {
		t.Fatalf("EvaluateSQL(total) = %q", got)
	}
}

func TestDependencyArgsSubstitutedPositionally(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.derivedTotal")
	if got != "SUM(amount) * 2" {
		t.Fatalf("EvaluateSQL(derivedTotal) = %q", got)
	}
}

func TestRenderReferenceShortCircuitsEvaluation(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	ctx := filter.VisitorContext{}.WithRenderReference("Orders.total", `"q0"."orders_total"`)
	got := mustEvaluate(t, c, v, ctx, "Orders.total")
	if got != `"q0"."orders_total"` {
		t.Fatalf("EvaluateSQL(render reference) = %q", got)
	}
}

func TestCycleDetectedOnMutualReference(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	sym, err := c.AddAutoResolved("Orders.cycleA")
	if err != nil {
		t.Fatalf("AddAutoResolved() error: %v", err)
	}
	_, err = v.EvaluateSQL(filter.VisitorContext{}, sym)
	var cycle *cerr.CycleDetected
	if !errors.As(err, &cycle) {
		t.Fatalf("EvaluateSQL(cycleA) error = %v, want CycleDetected", err)
	}
}

func TestCaseDimensionRendersCaseExpression(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.tier")
	if !strings.HasPrefix(got, "CASE WHEN amount > 100 THEN 'big'") {
		t.Fatalf("EvaluateSQL(tier) = %q", got)
	}
	if !strings.Contains(got, "ELSE 'none'") || !strings.HasSuffix(got, "END") {
		t.Fatalf("EvaluateSQL(tier) missing else/end: %q", got)
	}
}

func TestGeoDimensionRendersConcat(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.location")
	if got != "CONCAT(lat, ',', lon)" {
		t.Fatalf("EvaluateSQL(location) = %q", got)
	}
}

func TestTimeDimensionTruncatesAtGranularity(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	sym, err := c.ResolveTimeDimension("Orders.createdAt", "day")
	if err != nil {
		t.Fatalf("ResolveTimeDimension() error: %v", err)
	}
	got, err := v.EvaluateSQL(filter.VisitorContext{}, sym)
	if err != nil {
		t.Fatalf("EvaluateSQL() error: %v", err)
	}
	if got != "DATE_TRUNC('day', created_at)" {
		t.Fatalf("EvaluateSQL(createdAt@day) = %q", got)
	}
}

func TestTimeShiftAppliesBeforeTruncation(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	sym, err := c.ResolveTimeDimension("Orders.createdAt", "day")
	if err != nil {
		t.Fatalf("ResolveTimeDimension() error: %v", err)
	}
	ctx := filter.VisitorContext{TimeShiftInterval: "-1 month"}
	got, err := v.EvaluateSQL(ctx, sym)
	if err != nil {
		t.Fatalf("EvaluateSQL() error: %v", err)
	}
	if got != "DATE_TRUNC('day', created_at + interval '-1 month')" {
		t.Fatalf("EvaluateSQL(shifted createdAt@day) = %q", got)
	}
}

func TestCalendarShiftAmbiguityIsRefused(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	sym, err := c.AddAutoResolved("Orders.fiscalDate")
	if err != nil {
		t.Fatalf("AddAutoResolved() error: %v", err)
	}
	ctx := filter.VisitorContext{TimeShiftInterval: "-1 month", TimeShiftName: "fiscal"}
	_, err = v.EvaluateSQL(ctx, sym)
	var invalid *cerr.InvalidMultiStage
	if !errors.As(err, &invalid) {
		t.Fatalf("EvaluateSQL(fiscalDate) error = %v, want InvalidMultiStage", err)
	}
}

func TestCalendarNamedShiftSubstitutesCalendarSQL(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	ctx := filter.VisitorContext{TimeShiftName: "fiscal"}
	got := mustEvaluate(t, c, v, ctx, "Orders.calDate")
	if got != "calendar.fiscal_date_prev" {
		t.Fatalf("EvaluateSQL(calDate under fiscal shift) = %q", got)
	}
}

func TestCalendarShiftExprPlaceholderWrapsBase(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	ctx := filter.VisitorContext{TimeShiftName: "lastYear"}
	got := mustEvaluate(t, c, v, ctx, "Orders.calDate")
	if got != "cal_date - interval '1 year'" {
		t.Fatalf("EvaluateSQL(calDate under lastYear shift) = %q", got)
	}
}

func TestCalendarIntervalShiftSuppressesArithmetic(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	sym, err := c.ResolveTimeDimension("Orders.monthShifted", "day")
	if err != nil {
		t.Fatalf("ResolveTimeDimension() error: %v", err)
	}
	ctx := filter.VisitorContext{TimeShiftInterval: "-1 month"}
	got, err := v.EvaluateSQL(ctx, sym)
	if err != nil {
		t.Fatalf("EvaluateSQL() error: %v", err)
	}
	// The calendar substitute replaces the shift outright; no interval
	// arithmetic is layered on top of it.
	if got != "DATE_TRUNC('day', calendar.prev_month_date)" {
		t.Fatalf("EvaluateSQL(monthShifted@day) = %q", got)
	}
}

func TestMeasureFilterWrapsAggregateInCase(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.paidCount")
	if got != "CASE WHEN status = 'paid' THEN COUNT(id) END" {
		t.Fatalf("EvaluateSQL(paidCount) = %q", got)
	}
}

func TestRollingWindowRewritesCountToSum(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	v.State.RollingWindow = true
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.itemCount")
	if got != "SUM(amount)" {
		t.Fatalf("EvaluateSQL(itemCount under rolling window) = %q", got)
	}
}

func TestUngroupedFinalMeasureEmitsNullGuard(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	v.State.UngroupedFinalMeasure = true
	ctx := filter.VisitorContext{Ungrouped: true}
	got := mustEvaluate(t, c, v, ctx, "Orders.itemCount")
	if got != "CASE WHEN amount IS NOT NULL THEN 1 END" {
		t.Fatalf("EvaluateSQL(ungrouped itemCount) = %q", got)
	}
}

func TestMultiStageRankEmitsWindowFunction(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	v.State.MultiStageCalculating = map[string]MultiStageCalcKind{"Orders.salesRank": MultiStageRank}
	v.State.MultiStagePartitionBy = []string{"region"}
	v.State.MultiStageOrderBy = []string{"sales DESC"}
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.salesRank")
	if got != "RANK() OVER (PARTITION BY region ORDER BY sales DESC)" {
		t.Fatalf("EvaluateSQL(salesRank) = %q", got)
	}
}

func TestMultiStageWindowAggregateDoublesAggregation(t *testing.T) {
	c, v := newTestVisitor(t, visitorSchema(t))
	v.State.MultiStageCalculating = map[string]MultiStageCalcKind{"Orders.total": MultiStageWindowAggregate}
	v.State.MultiStagePartitionBy = []string{"region"}
	got := mustEvaluate(t, c, v, filter.VisitorContext{}, "Orders.total")
	if got != "SUM(amount) OVER (PARTITION BY region)" {
		t.Fatalf("EvaluateSQL(window aggregate) = %q", got)
	}
}
