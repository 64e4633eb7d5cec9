package compiler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func ordersSchema(t *testing.T) *schema.Schema {
	t.Helper()
	doc := schema.Document{Cubes: []schema.Cube{
		{
			Name:     "Orders",
			SQLTable: "public.orders",
			Dimensions: []schema.Dimension{
				{Name: "status", Type: schema.DimensionString, SQL: "status"},
			},
			Measures: []schema.Measure{
				{Name: "count", Type: schema.MeasureCount},
				{Name: "total", Type: schema.MeasureSum, SQL: "amount"},
			},
		},
	}}
	s, err := schema.New(doc)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return s
}

func postgresDialect(t *testing.T) *dialect.TemplateSet {
	t.Helper()
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New() error: %v", err)
	}
	return d
}

func TestCompileSimpleMeasureQuery(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)

	outcome, err := Compile(context.Background(), QueryRequest{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.status"},
	}, s, d)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !strings.Contains(outcome.SQL, "SELECT") {
		t.Fatalf("SQL = %q, expected a SELECT statement", outcome.SQL)
	}
	if outcome.PlanTextForExplain == "" {
		t.Fatal("expected a non-empty plan text")
	}
}

func TestCompileUnknownMeasureErrors(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)

	_, err := Compile(context.Background(), QueryRequest{
		Measures: []string{"Orders.doesNotExist"},
	}, s, d)
	if err == nil {
		t.Fatal("expected unknown measure to error")
	}
}

func TestCompileRespectsCancelledContext(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compile(ctx, QueryRequest{Measures: []string{"Orders.count"}}, s, d)
	if err == nil {
		t.Fatal("expected cancelled context to short-circuit compilation")
	}
}

func TestCompileWithFilterParameterizesLiteral(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)

	outcome, err := Compile(context.Background(), QueryRequest{
		Measures: []string{"Orders.count"},
		Filters: filter.ValueItem{
			Symbol: "Orders.status",
			Op:     filter.OpEquals,
			Values: []string{"completed"},
		},
	}, s, d)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if len(outcome.Params) != 1 {
		t.Fatalf("Params = %v, want exactly one bound literal", outcome.Params)
	}
}

func TestCompileDeterministicAcrossRepeatedRuns(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)
	req := QueryRequest{Measures: []string{"Orders.total"}, Dimensions: []string{"Orders.status"}}

	first, err := Compile(context.Background(), req, s, d)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	second, err := Compile(context.Background(), req, s, d)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if first.SQL != second.SQL {
		t.Fatalf("expected identical SQL across repeated compiles:\n%s\nvs\n%s", first.SQL, second.SQL)
	}
}

func TestCompileTimesOutOnExpiredDeadline(t *testing.T) {
	s := ordersSchema(t)
	d := postgresDialect(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := Compile(ctx, QueryRequest{Measures: []string{"Orders.count"}}, s, d)
	if err == nil {
		t.Fatal("expected expired deadline to error")
	}
}
