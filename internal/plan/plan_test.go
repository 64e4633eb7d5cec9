package plan

import (
	"strings"
	"testing"
)

func TestQueryPrettyPrintIncludesSource(t *testing.T) {
	q := Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.status"},
		Source:     LogicalJoin{Root: "Orders"},
	}
	out := q.PrettyPrint(&PrintState{})
	if !strings.Contains(out, "Query[measures=[Orders.count]") {
		t.Fatalf("PrettyPrint() = %q", out)
	}
	if !strings.Contains(out, "LogicalJoin[root=Orders") {
		t.Fatalf("PrettyPrint() missing child:\n%s", out)
	}
}

func TestQueryWithInputsReplacesSource(t *testing.T) {
	q := Query{Source: LogicalJoin{Root: "Orders"}}
	replaced := q.WithInputs([]PlanNode{LogicalJoin{Root: "Customers"}})
	rq, ok := replaced.(Query)
	if !ok {
		t.Fatalf("WithInputs() = %T, want Query", replaced)
	}
	lj, ok := rq.Source.(LogicalJoin)
	if !ok || lj.Root != "Customers" {
		t.Fatalf("Source = %+v", rq.Source)
	}
}

func TestQueryWithInputsLeavesSourceWhenEmpty(t *testing.T) {
	q := Query{Source: LogicalJoin{Root: "Orders"}}
	replaced := q.WithInputs(nil).(Query)
	if replaced.Source.(LogicalJoin).Root != "Orders" {
		t.Fatalf("Source = %+v, expected unchanged", replaced.Source)
	}
}

func TestTryFromSucceedsOnMatchingKind(t *testing.T) {
	var n PlanNode = LogicalJoin{Root: "Orders"}
	lj, err := TryFrom[LogicalJoin](n)
	if err != nil {
		t.Fatalf("TryFrom() error: %v", err)
	}
	if lj.Root != "Orders" {
		t.Fatalf("Root = %q", lj.Root)
	}
}

func TestTryFromReturnsWrongNodeKind(t *testing.T) {
	var n PlanNode = LogicalJoin{Root: "Orders"}
	_, err := TryFrom[PreAggregation](n)
	if err == nil {
		t.Fatal("expected a mismatch error")
	}
	var wk *WrongNodeKind
	if wk, _ = err.(*WrongNodeKind); wk == nil {
		t.Fatalf("err = %T, want *WrongNodeKind", err)
	}
	if wk.Got != "LogicalJoin" {
		t.Fatalf("Got = %q", wk.Got)
	}
}

func TestFullKeyAggregateInputsMatchMembers(t *testing.T) {
	members := []PlanNode{LogicalJoin{Root: "A"}, LogicalJoin{Root: "B"}}
	f := FullKeyAggregate{JoinDimensions: []string{"status"}, Members: members}
	if len(f.Inputs()) != 2 {
		t.Fatalf("Inputs() = %v", f.Inputs())
	}
	replaced := f.WithInputs([]PlanNode{LogicalJoin{Root: "C"}}).(FullKeyAggregate)
	if len(replaced.Members) != 1 || replaced.Members[0].(LogicalJoin).Root != "C" {
		t.Fatalf("Members = %+v", replaced.Members)
	}
}

func TestWrappedSelectInputsSplitCubeScanAndSubqueries(t *testing.T) {
	w := WrappedSelect{
		CubeScanInputs: []PlanNode{LogicalJoin{Root: "Orders"}},
		Subqueries:     []PlanNode{LogicalJoin{Root: "Sub"}},
	}
	if len(w.Inputs()) != 2 {
		t.Fatalf("Inputs() = %v", w.Inputs())
	}
	replaced := w.WithInputs([]PlanNode{LogicalJoin{Root: "A"}, LogicalJoin{Root: "B"}}).(WrappedSelect)
	if len(replaced.CubeScanInputs) != 1 || len(replaced.Subqueries) != 1 {
		t.Fatalf("split = %+v", replaced)
	}
	if replaced.CubeScanInputs[0].(LogicalJoin).Root != "A" || replaced.Subqueries[0].(LogicalJoin).Root != "B" {
		t.Fatalf("split contents = %+v", replaced)
	}
}

func TestLogicalMultiStageMemberRollingWindowInputsOrder(t *testing.T) {
	m := LogicalMultiStageMember{
		Kind:   KindRollingWindow,
		Input:  LogicalJoin{Root: "Leaf"},
		Series: LogicalJoin{Root: "Series"},
	}
	inputs := m.Inputs()
	if len(inputs) != 2 {
		t.Fatalf("Inputs() = %v", inputs)
	}
	if inputs[0].(LogicalJoin).Root != "Leaf" || inputs[1].(LogicalJoin).Root != "Series" {
		t.Fatalf("Inputs() order = %+v", inputs)
	}

	replaced := m.WithInputs([]PlanNode{LogicalJoin{Root: "NewLeaf"}, LogicalJoin{Root: "NewSeries"}}).(LogicalMultiStageMember)
	if replaced.Input.(LogicalJoin).Root != "NewLeaf" || replaced.Series.(LogicalJoin).Root != "NewSeries" {
		t.Fatalf("replaced = %+v", replaced)
	}
}

func TestLogicalMultiStageMemberNodeNameByKind(t *testing.T) {
	cases := []struct {
		kind MultiStageKind
		want string
	}{
		{KindLeafMeasure, "LeafMeasure"},
		{KindMeasureCalculation, "MeasureCalculation"},
		{KindGetDateRange, "GetDateRange"},
		{KindTimeSeries, "TimeSeries"},
		{KindRollingWindow, "RollingWindow"},
	}
	for _, c := range cases {
		m := LogicalMultiStageMember{Kind: c.kind}
		if got := m.NodeName(); got != c.want {
			t.Errorf("NodeName(%v) = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestPreAggregationPrettyPrintIncludesTableAndID(t *testing.T) {
	p := PreAggregation{TableName: "orders_rollup", PreAggregation: "Orders.main"}
	out := p.PrettyPrint(&PrintState{})
	if !strings.Contains(out, "orders_rollup") || !strings.Contains(out, "Orders.main") {
		t.Fatalf("PrettyPrint() = %q", out)
	}
}
