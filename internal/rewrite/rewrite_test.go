package rewrite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/plan"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func rewriteSchema(t *testing.T) *schema.Schema {
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
			},
			Measures: []schema.Measure{
				{Name: "count", Type: schema.MeasureCount},
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

func postgresDialect(t *testing.T) *dialect.TemplateSet {
	t.Helper()
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New() error: %v", err)
	}
	return d
}

func TestEGraphAddHashconsesIdenticalNodes(t *testing.T) {
	g := NewEGraph()
	a := g.Add(ENode{Op: OpColumn, Data: "Orders.status"})
	b := g.Add(ENode{Op: OpColumn, Data: "Orders.status"})
	if g.Find(a) != g.Find(b) {
		t.Fatalf("identical nodes got distinct classes: %d vs %d", a, b)
	}
	if g.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1", g.NodeCount())
	}
}

func TestUnionMergesClassesAndFindCanonicalizes(t *testing.T) {
	g := NewEGraph()
	a := g.Add(ENode{Op: OpColumn, Data: "a"})
	b := g.Add(ENode{Op: OpLiteral, Data: "b"})
	if !g.Union(a, b) {
		t.Fatal("Union() of distinct classes returned false")
	}
	if g.Find(a) != g.Find(b) {
		t.Fatal("Find() disagrees after Union()")
	}
	if g.Union(a, b) {
		t.Fatal("repeated Union() should be a no-op")
	}
	if len(g.Class(a).Nodes) != 2 {
		t.Fatalf("merged class has %d nodes, want 2", len(g.Class(a).Nodes))
	}
}

func TestRebuildDeduplicatesCongruentNodes(t *testing.T) {
	g := NewEGraph()
	a := g.Add(ENode{Op: OpLiteral, Data: "x"})
	b := g.Add(ENode{Op: OpLiteral, Data: "y"})
	pa := g.Add(ENode{Op: OpNot, Children: []int{a}})
	pb := g.Add(ENode{Op: OpNot, Children: []int{b}})
	g.Union(a, b)
	g.Union(pa, pb)
	g.Rebuild()
	// Not(x) and Not(y) canonicalize to the same node once x ~ y.
	if len(g.Class(pa).Nodes) != 1 {
		t.Fatalf("parent class has %d nodes after Rebuild(), want 1", len(g.Class(pa).Nodes))
	}
}

func TestExtractPrefersOuterCubeScanWrapper(t *testing.T) {
	g := NewEGraph()
	scan := g.Add(ENode{Op: OpCubeScan, Data: "Orders"})
	proj := g.Add(ENode{Op: OpProjection, Children: []int{scan}})
	wrapper := g.Add(ENode{Op: OpCubeScanWrapper, Children: []int{scan}})
	g.Union(proj, wrapper)

	term, err := Extract(proj, g)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if term.Op != OpCubeScanWrapper {
		t.Fatalf("Extract() picked %s, want CubeScanWrapper", term.Op)
	}
	if !IsFullyPushedDown(term) {
		t.Fatal("IsFullyPushedDown() = false for wrapper over CubeScan")
	}
}

func TestExtractPrefersFewerReplacerMarkers(t *testing.T) {
	g := NewEGraph()
	col := g.Add(ENode{Op: OpColumn, Data: "a"})
	marked := g.Add(ENode{Op: OpWrapperPushdownReplacer, Children: []int{col}})
	lit := g.Add(ENode{Op: OpLiteral, Data: "a"})
	g.Union(marked, lit)

	term, err := Extract(marked, g)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if term.Op != OpLiteral {
		t.Fatalf("Extract() picked %s, want the marker-free Literal", term.Op)
	}
}

func TestExtractPrefersMemberFormOnCostTie(t *testing.T) {
	g := NewEGraph()
	col := g.Add(ENode{Op: OpColumn, Data: "Orders.status"})
	mem := g.Add(ENode{Op: OpMemberDimension, Data: "Orders.status"})
	g.Union(col, mem)

	term, err := Extract(col, g)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if term.Op != OpMemberDimension {
		t.Fatalf("Extract() picked %s, want MemberDimension on cost tie", term.Op)
	}
}

func TestRewriteRecognizesMembersIntoQuery(t *testing.T) {
	rel := RelNode{Kind: "Projection", Children: []RelNode{
		{Kind: "Column", Data: "Orders.status"},
		{Kind: "AggrFun", Data: "COUNT", Children: []RelNode{{Kind: "Column", Data: "Orders.count"}}},
	}}

	node, err := Rewrite(context.Background(), rel, rewriteSchema(t), postgresDialect(t), DefaultSaturationLimits())
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	q, ok := node.(plan.Query)
	if !ok {
		t.Fatalf("Rewrite() returned %T, want plan.Query", node)
	}
	if len(q.Measures) != 1 || q.Measures[0] != "Orders.count" {
		t.Fatalf("Measures = %v", q.Measures)
	}
	if len(q.Dimensions) != 1 || q.Dimensions[0] != "Orders.status" {
		t.Fatalf("Dimensions = %v", q.Dimensions)
	}
	join, ok := q.Source.(plan.LogicalJoin)
	if !ok {
		t.Fatalf("Source = %T, want LogicalJoin", q.Source)
	}
	if join.Root != "Orders" || len(join.Items) != 0 {
		t.Fatalf("join = %+v", join)
	}
}

func TestRewriteBuildsJoinAcrossCubes(t *testing.T) {
	rel := RelNode{Kind: "Projection", Children: []RelNode{
		{Kind: "Column", Data: "Customers.code"},
		{Kind: "AggrFun", Data: "COUNT", Children: []RelNode{{Kind: "Column", Data: "Orders.count"}}},
	}}

	node, err := Rewrite(context.Background(), rel, rewriteSchema(t), postgresDialect(t), DefaultSaturationLimits())
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	q := node.(plan.Query)
	join, ok := q.Source.(plan.LogicalJoin)
	if !ok {
		t.Fatalf("Source = %T, want LogicalJoin", q.Source)
	}
	if join.Root != "Orders" || len(join.Items) != 1 || join.Items[0].Cube != "Customers" {
		t.Fatalf("join = %+v", join)
	}
}

func TestRewriteRecognizesTimeDimensionGranularity(t *testing.T) {
	rel := RelNode{Kind: "Projection", Children: []RelNode{
		{Kind: "Function", Data: "DATE_TRUNC", Children: []RelNode{
			{Kind: "Literal", Data: "day"},
			{Kind: "Column", Data: "Orders.createdAt"},
		}},
		{Kind: "AggrFun", Data: "COUNT", Children: []RelNode{{Kind: "Column", Data: "Orders.count"}}},
	}}

	node, err := Rewrite(context.Background(), rel, rewriteSchema(t), postgresDialect(t), DefaultSaturationLimits())
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	q := node.(plan.Query)
	if len(q.TimeDimensions) != 1 {
		t.Fatalf("TimeDimensions = %v", q.TimeDimensions)
	}
	td := q.TimeDimensions[0]
	if td.Dimension != "Orders.createdAt" || td.Granularity != "day" {
		t.Fatalf("time dimension = %+v", td)
	}
}

func TestRewriteWithoutRecognizableMembersCannotDecide(t *testing.T) {
	rel := RelNode{Kind: "Projection", Children: []RelNode{
		{Kind: "Column", Data: "mystery.col"},
	}}

	_, err := Rewrite(context.Background(), rel, rewriteSchema(t), postgresDialect(t), DefaultSaturationLimits())
	var cannot *cerr.RewriteCannotDecide
	if !errors.As(err, &cannot) {
		t.Fatalf("Rewrite() error = %v, want RewriteCannotDecide", err)
	}
}

func TestRewriteRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rel := RelNode{Kind: "Projection", Children: []RelNode{{Kind: "Column", Data: "Orders.status"}}}
	_, err := Rewrite(ctx, rel, rewriteSchema(t), postgresDialect(t), DefaultSaturationLimits())
	var cancelled *cerr.Cancelled
	if !errors.As(err, &cancelled) {
		t.Fatalf("Rewrite() error = %v, want Cancelled", err)
	}
}

func TestSaturateStopsAtNodeLimit(t *testing.T) {
	g := NewEGraph()
	g.Add(ENode{Op: OpColumn, Data: "Orders.status"})
	limits := SaturationLimits{MaxIterations: 100, MaxNodes: 0, MaxDuration: time.Second}

	lookup := func(cube, column string) (string, bool) { return cube + "." + column, true }
	if err := Saturate(context.Background(), g, postgresDialect(t), lookup, StandardRules(), limits); err != nil {
		t.Fatalf("Saturate() error: %v", err)
	}
}

func TestSaturateReachesFixedPointDeterministically(t *testing.T) {
	build := func() (*EGraph, int) {
		g := NewEGraph()
		root := toENode(g, RelNode{Kind: "Projection", Children: []RelNode{
			{Kind: "Column", Data: "Orders.status"},
		}})
		return g, root
	}
	lookup := func(cube, column string) (string, bool) {
		if cube == "Orders" {
			return cube + "." + column, true
		}
		return "", false
	}

	g1, r1 := build()
	g2, r2 := build()
	limits := DefaultSaturationLimits()
	if err := Saturate(context.Background(), g1, postgresDialect(t), lookup, StandardRules(), limits); err != nil {
		t.Fatalf("Saturate() error: %v", err)
	}
	if err := Saturate(context.Background(), g2, postgresDialect(t), lookup, StandardRules(), limits); err != nil {
		t.Fatalf("Saturate() error: %v", err)
	}
	t1, err := Extract(r1, g1)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	t2, err := Extract(r2, g2)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if prettyTerm(t1) != prettyTerm(t2) {
		t.Fatalf("extraction not deterministic: %q vs %q", prettyTerm(t1), prettyTerm(t2))
	}
}

func TestTopologyUnionAssocFlattensNestedUnions(t *testing.T) {
	g := NewEGraph()
	a := g.Add(ENode{Op: OpCubeScan, Data: "a"})
	b := g.Add(ENode{Op: OpCubeScan, Data: "b"})
	c := g.Add(ENode{Op: OpCubeScan, Data: "c"})
	inner := g.Add(ENode{Op: OpUnion, Children: []int{b, c}})
	outer := g.Add(ENode{Op: OpUnion, Children: []int{a, inner}})

	lookup := func(string, string) (string, bool) { return "", false }
	if err := Saturate(context.Background(), g, postgresDialect(t), lookup, StandardRules(), DefaultSaturationLimits()); err != nil {
		t.Fatalf("Saturate() error: %v", err)
	}

	found := false
	for _, n := range g.Class(outer).Nodes {
		if n.Op == OpUnion && len(n.Children) == 3 {
			found = true
		}
	}
	if !found {
		t.Fatal("flattened three-way Union not present in outer class")
	}
}
