package ingest

import (
	"testing"

	"github.com/canonica-labs/cubecompile/internal/cerr"
)

func TestIngestRejectsEmptyQuery(t *testing.T) {
	_, err := Ingest("   ")
	if err == nil {
		t.Fatal("expected empty query to be rejected")
	}
	if _, ok := err.(*cerr.QueryRejected); !ok {
		t.Fatalf("expected *cerr.QueryRejected, got %T", err)
	}
}

func TestIngestRejectsMultipleStatements(t *testing.T) {
	_, err := Ingest("SELECT 1 FROM orders; SELECT 2 FROM orders")
	if err == nil {
		t.Fatal("expected multiple statements to be rejected")
	}
}

func TestIngestRejectsNonSelect(t *testing.T) {
	_, err := Ingest("DELETE FROM orders")
	if err == nil {
		t.Fatal("expected non-SELECT statement to be rejected")
	}
}

func TestIngestRejectsStar(t *testing.T) {
	_, err := Ingest("SELECT * FROM orders")
	if err == nil {
		t.Fatal("expected SELECT * to be rejected")
	}
}

func TestIngestSimpleProjection(t *testing.T) {
	node, err := Ingest("SELECT status FROM orders")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if node.Kind != "Projection" {
		t.Fatalf("Kind = %q, want Projection", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("Children = %+v, want [TableScan, Column]", node.Children)
	}
	if node.Children[0].Kind != "TableScan" {
		t.Fatalf("Children[0].Kind = %q, want TableScan", node.Children[0].Kind)
	}
	if node.Children[1].Kind != "Column" || node.Children[1].Data != "status" {
		t.Fatalf("Children[1] = %+v, want Column(status)", node.Children[1])
	}
}

func TestIngestAggregateQueryProducesAggregateNode(t *testing.T) {
	node, err := Ingest("SELECT status, count(id) FROM orders GROUP BY status")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if node.Kind != "Aggregate" {
		t.Fatalf("Kind = %q, want Aggregate", node.Kind)
	}
}

func TestIngestFilterWrapsTableScan(t *testing.T) {
	node, err := Ingest("SELECT id FROM orders WHERE status = 'completed'")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if node.Kind != "Projection" {
		t.Fatalf("Kind = %q, want Projection", node.Kind)
	}
	if node.Children[0].Kind != "Filter" {
		t.Fatalf("Children[0].Kind = %q, want Filter", node.Children[0].Kind)
	}
}
