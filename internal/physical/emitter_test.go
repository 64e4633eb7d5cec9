package physical

import (
	"strings"
	"testing"

	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func emitterSchema(t *testing.T) *schema.Schema {
	t.Helper()
	doc := schema.Document{Cubes: []schema.Cube{
		{
			Name:     "Orders",
			SQLTable: "public.orders",
			Joins: []schema.Join{
				{ToCube: "Customers", Relationship: schema.ManyToOne, OnSQL: "{Orders.customerId} = {Customers.id}"},
			},
			Dimensions: []schema.Dimension{
				{Name: "status", Type: schema.DimensionString},
				{Name: "customerId", Type: schema.DimensionNumber},
				{Name: "createdAt", Type: schema.DimensionTime, SQL: "created_at"},
				{Name: "tier", Type: schema.DimensionSwitch, SQL: "x", Values: []string{"A", "B", "C"}, Case: []schema.CaseBranch{
					{When: "raw_tier = 'A'", Then: "'A'"},
					{When: "raw_tier = 'B'", Then: "'B'"},
					{When: "raw_tier = 'C'", Then: "'C'"},
				}},
			},
			Measures: []schema.Measure{
				{Name: "count", Type: schema.MeasureCount},
				{Name: "total", Type: schema.MeasureSum, SQL: "amount"},
			},
		},
		{
			Name:     "Customers",
			SQLTable: "public.customers",
			Dimensions: []schema.Dimension{
				{Name: "id", Type: schema.DimensionNumber},
				{Name: "code", Type: schema.DimensionString},
			},
		},
	}}
	s, err := schema.New(doc)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return s
}

func newTestEmitter(t *testing.T, s *schema.Schema) *Emitter {
	t.Helper()
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New() error: %v", err)
	}
	return NewEmitter(s, d)
}

func joinSource(t *testing.T, s *schema.Schema, cubes ...string) plan.LogicalJoin {
	t.Helper()
	tree, err := schema.NewJoinGraph(s).BuildJoin(cubes)
	if err != nil {
		t.Fatalf("BuildJoin() error: %v", err)
	}
	join := plan.LogicalJoin{Root: tree.Root}
	for _, step := range tree.Steps {
		join.Items = append(join.Items, plan.JoinItem{Cube: step.Cube, Relationship: step.Relationship, OnSQL: step.OnSQL})
	}
	return join
}

func TestEmitSimpleJoinQuery(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Customers.code"},
		Source:     joinSource(t, s, "Orders", "Customers"),
	}

	sql, params, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	for _, fragment := range []string{
		`public.orders AS "Orders"`,
		`LEFT JOIN public.customers AS "Customers"`,
		`"Orders"."customerId" = "Customers"."id"`,
		"COUNT(*)",
		`GROUP BY "Customers"."code"`,
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("Emit() = %q, missing %q", sql, fragment)
		}
	}
	if len(params) != 0 {
		t.Fatalf("params = %v, want none", params)
	}
}

func TestEmitPreAggregationSourceReadsRollupTable(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.status"},
		Source:     plan.PreAggregation{TableName: "Orders_by_status_daily_rollup", PreAggregation: "Orders.by_status_daily"},
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, `FROM "Orders_by_status_daily_rollup"`) {
		t.Fatalf("Emit() = %q, want rollup table in FROM", sql)
	}
	if strings.Contains(sql, "public.orders") {
		t.Fatalf("Emit() = %q, must not touch the base table", sql)
	}
}

func TestEmitEqualsFilterAllocatesParameter(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures: []string{"Orders.count"},
		Filters:  filter.ValueItem{Symbol: "Orders.status", Op: filter.OpEquals, Values: []string{"done"}},
		Source:   joinSource(t, s, "Orders"),
	}

	sql, params, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, `WHERE "Orders"."status" = $1`) {
		t.Fatalf("Emit() = %q, want parameterized WHERE", sql)
	}
	if len(params) != 1 {
		t.Fatalf("params = %v, want one entry", params)
	}
}

func TestEmitInFilterGroupCombinesConditions(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures: []string{"Orders.count"},
		Filters: filter.Group{Kind: filter.GroupAnd, Items: []filter.Item{
			filter.ValueItem{Symbol: "Orders.status", Op: filter.OpIn, Values: []string{"a", "b"}},
			filter.ValueItem{Symbol: "Orders.customerId", Op: filter.OpGt, Values: []string{"10"}},
		}},
		Source: joinSource(t, s, "Orders"),
	}

	sql, params, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, `"Orders"."status" IN ($1, $2)`) {
		t.Fatalf("Emit() = %q, want IN list", sql)
	}
	if !strings.Contains(sql, `"Orders"."customerId" > $3`) {
		t.Fatalf("Emit() = %q, want comparison", sql)
	}
	if len(params) != 3 {
		t.Fatalf("params = %v, want three entries", params)
	}
}

func TestEmitSwitchDimensionSpecializedByStaticFilter(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.tier"},
		Filters:    filter.ValueItem{Symbol: "Orders.tier", Op: filter.OpIn, Values: []string{"A", "B"}},
		Source:     joinSource(t, s, "Orders"),
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, "'A'") || !strings.Contains(sql, "'B'") {
		t.Fatalf("Emit() = %q, retained branches missing", sql)
	}
	if strings.Contains(sql, "'C'") {
		t.Fatalf("Emit() = %q, contradicted branch survived", sql)
	}
}

func TestEmitTimeDimensionWithDateRange(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures: []string{"Orders.count"},
		TimeDimensions: []plan.TimeDimensionSelection{{
			Dimension:     "Orders.createdAt",
			Granularity:   "day",
			DateRangeFrom: "2024-01-01",
			DateRangeTo:   "2024-02-01",
		}},
		Source: joinSource(t, s, "Orders"),
	}

	sql, params, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, "DATE_TRUNC('day', created_at)") {
		t.Fatalf("Emit() = %q, want day truncation", sql)
	}
	if !strings.Contains(sql, "created_at BETWEEN $1 AND $2") {
		t.Fatalf("Emit() = %q, want parameterized range", sql)
	}
	if len(params) != 2 {
		t.Fatalf("params = %v, want the two bounds", params)
	}
}

func TestEmitOrderLimitOffset(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Customers.code"},
		OrderBy:    []plan.OrderExpr{{Symbol: "Customers.code", Desc: true}},
		Limit:      10,
		Offset:     5,
		Source:     joinSource(t, s, "Orders", "Customers"),
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, `ORDER BY "Customers_code" DESC`) {
		t.Fatalf("Emit() = %q, want order by output alias", sql)
	}
	if !strings.Contains(sql, " LIMIT 10") || !strings.Contains(sql, " OFFSET 5") {
		t.Fatalf("Emit() = %q, want limit/offset", sql)
	}
}

func TestEmitUngroupedQuerySkipsGroupBy(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.status"},
		Ungrouped:  true,
		Source:     joinSource(t, s, "Orders"),
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if strings.Contains(sql, "GROUP BY") {
		t.Fatalf("Emit() = %q, ungrouped query must not group", sql)
	}
}

func TestEmitSegmentFilterRendersMemberBody(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Measures: []string{"Orders.count"},
		Filters:  filter.Segment{Symbol: "Orders.status"},
		Source:   joinSource(t, s, "Orders"),
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, `WHERE "Orders"."status"`) {
		t.Fatalf("Emit() = %q, want segment condition", sql)
	}
}

func TestEmitResolveMultipliedMeasuresDeduplicates(t *testing.T) {
	s := emitterSchema(t)
	e := newTestEmitter(t, s)
	q := plan.Query{
		Source: plan.ResolveMultipliedMeasures{
			Input: plan.LogicalJoin{Root: "Orders"},
			Groups: []plan.MeasureGroup{
				{Cube: "Orders", Measures: []string{"Orders.total"}, Multiplied: true},
			},
		},
	}

	sql, _, err := e.Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(sql, "SELECT DISTINCT") {
		t.Fatalf("Emit() = %q, multiplied group must deduplicate", sql)
	}
	if !strings.Contains(sql, `AS "Orders_measures"`) {
		t.Fatalf("Emit() = %q, want aliased measure subquery", sql)
	}
}

func TestEmitDeterministicForIdenticalInput(t *testing.T) {
	s := emitterSchema(t)
	q := plan.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Customers.code"},
		Filters:    filter.ValueItem{Symbol: "Orders.status", Op: filter.OpEquals, Values: []string{"done"}},
		Source:     joinSource(t, s, "Orders", "Customers"),
	}

	first, _, err := newTestEmitter(t, s).Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	second, _, err := newTestEmitter(t, s).Emit(q)
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if first != second {
		t.Fatalf("emission not deterministic:\n%s\nvs\n%s", first, second)
	}
}
