// Package ingest parses raw SQL text into the minimal relational node tree
// (internal/rewrite.RelNode) the e-graph rewriter consumes. Parsing is
// reject-first: multi-statement input, DDL/DML, and unsupported syntax are
// refused before any lowering happens. Built on the vitess-lineage
// github.com/xwb1989/sqlparser.
package ingest

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/rewrite"
)

// Ingest parses rawSQL into a rewrite.RelNode tree. Only single read-only
// SELECT statements are accepted; anything else is a *cerr.QueryRejected,
// read-only SELECT queries only.
func Ingest(rawSQL string) (rewrite.RelNode, error) {
	sql := strings.TrimSpace(rawSQL)
	if sql == "" {
		return rewrite.RelNode{}, cerr.NewQueryRejected(sql, "empty query")
	}

	pieces, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return rewrite.RelNode{}, cerr.NewQueryRejected(sql, "failed to split statement: "+err.Error())
	}
	if len(pieces) > 1 {
		return rewrite.RelNode{}, cerr.NewQueryRejected(sql, "multiple statements not allowed")
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return rewrite.RelNode{}, cerr.NewQueryRejected(sql, "invalid SQL syntax: "+err.Error())
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return rewrite.RelNode{}, cerr.NewQueryRejected(sql, "only SELECT statements are supported")
	}

	return buildSelect(sel)
}

func buildSelect(sel *sqlparser.Select) (rewrite.RelNode, error) {
	if len(sel.From) == 0 {
		return rewrite.RelNode{}, cerr.NewQueryRejected("", "SELECT requires a FROM clause")
	}

	from, err := buildTableExprs(sel.From)
	if err != nil {
		return rewrite.RelNode{}, err
	}

	node := from

	if sel.Where != nil && sel.Where.Expr != nil {
		cond, err := buildExpr(sel.Where.Expr)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		node = rewrite.RelNode{Kind: "Filter", Children: []rewrite.RelNode{node, cond}}
	}

	projection, hasAggregate, err := buildSelectExprs(sel.SelectExprs)
	if err != nil {
		return rewrite.RelNode{}, err
	}

	if hasAggregate || len(sel.GroupBy) > 0 {
		groupBy := make([]rewrite.RelNode, 0, len(sel.GroupBy))
		for _, g := range sel.GroupBy {
			e, err := buildExpr(g)
			if err != nil {
				return rewrite.RelNode{}, err
			}
			groupBy = append(groupBy, e)
		}
		children := append([]rewrite.RelNode{node}, groupBy...)
		children = append(children, projection...)
		node = rewrite.RelNode{Kind: "Aggregate", Children: children}
		return node, nil
	}

	children := append([]rewrite.RelNode{node}, projection...)
	return rewrite.RelNode{Kind: "Projection", Children: children}, nil
}

func buildTableExprs(exprs sqlparser.TableExprs) (rewrite.RelNode, error) {
	var node rewrite.RelNode
	for i, te := range exprs {
		n, err := buildTableExpr(te)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		if i == 0 {
			node = n
			continue
		}
		node = rewrite.RelNode{Kind: "CrossJoin", Children: []rewrite.RelNode{node, n}}
	}
	return node, nil
}

func buildTableExpr(te sqlparser.TableExpr) (rewrite.RelNode, error) {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		name, ok := t.Expr.(sqlparser.TableName)
		if !ok {
			return rewrite.RelNode{}, cerr.NewQueryRejected("", "subqueries in FROM are not supported")
		}
		alias := t.As.String()
		if alias == "" {
			alias = name.Name.String()
		}
		return rewrite.RelNode{Kind: "TableScan", Data: alias}, nil
	case *sqlparser.JoinTableExpr:
		left, err := buildTableExpr(t.LeftExpr)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		right, err := buildTableExpr(t.RightExpr)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		var cond rewrite.RelNode
		if t.Condition.On != nil {
			c, err := buildExpr(t.Condition.On)
			if err != nil {
				return rewrite.RelNode{}, err
			}
			cond = c
		}
		return rewrite.RelNode{Kind: "Join", Data: string(t.Join), Children: []rewrite.RelNode{left, right, cond}}, nil
	case *sqlparser.ParenTableExpr:
		return buildTableExprs(t.Exprs)
	default:
		return rewrite.RelNode{}, cerr.NewQueryRejected("", "unsupported FROM clause element")
	}
}

func buildSelectExprs(exprs sqlparser.SelectExprs) ([]rewrite.RelNode, bool, error) {
	var out []rewrite.RelNode
	hasAggregate := false
	for _, se := range exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, false, cerr.NewQueryRejected("", "SELECT * is not supported; list cube members explicitly")
		}
		n, err := buildExpr(aliased.Expr)
		if err != nil {
			return nil, false, err
		}
		if n.Kind == "AggrFun" {
			hasAggregate = true
		}
		out = append(out, n)
	}
	return out, hasAggregate, nil
}

var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

func buildExpr(expr sqlparser.Expr) (rewrite.RelNode, error) {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		qualifier := e.Qualifier.Name.String()
		name := e.Name.String()
		if qualifier == "" {
			return rewrite.RelNode{Kind: "Column", Data: name}, nil
		}
		return rewrite.RelNode{Kind: "Column", Data: qualifier + "." + name}, nil
	case *sqlparser.SQLVal:
		return rewrite.RelNode{Kind: "Literal", Data: string(e.Val)}, nil
	case *sqlparser.ComparisonExpr:
		left, err := buildExpr(e.Left)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		right, err := buildExpr(e.Right)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		return rewrite.RelNode{Kind: "BinaryExpr", Data: e.Operator, Children: []rewrite.RelNode{left, right}}, nil
	case *sqlparser.AndExpr:
		left, err := buildExpr(e.Left)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		right, err := buildExpr(e.Right)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		return rewrite.RelNode{Kind: "BinaryExpr", Data: "and", Children: []rewrite.RelNode{left, right}}, nil
	case *sqlparser.OrExpr:
		left, err := buildExpr(e.Left)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		right, err := buildExpr(e.Right)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		return rewrite.RelNode{Kind: "BinaryExpr", Data: "or", Children: []rewrite.RelNode{left, right}}, nil
	case *sqlparser.ParenExpr:
		return buildExpr(e.Expr)
	case *sqlparser.NotExpr:
		inner, err := buildExpr(e.Expr)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		return rewrite.RelNode{Kind: "Not", Children: []rewrite.RelNode{inner}}, nil
	case *sqlparser.IsExpr:
		inner, err := buildExpr(e.Expr)
		if err != nil {
			return rewrite.RelNode{}, err
		}
		kind := "IsNull"
		if strings.Contains(strings.ToLower(e.Operator), "not") {
			kind = "IsNotNull"
		}
		return rewrite.RelNode{Kind: kind, Children: []rewrite.RelNode{inner}}, nil
	case *sqlparser.FuncExpr:
		name := strings.ToLower(e.Name.String())
		var args []rewrite.RelNode
		for _, a := range e.Exprs {
			aliased, ok := a.(*sqlparser.AliasedExpr)
			if !ok {
				continue
			}
			n, err := buildExpr(aliased.Expr)
			if err != nil {
				return rewrite.RelNode{}, err
			}
			args = append(args, n)
		}
		if aggregateFuncs[name] {
			return rewrite.RelNode{Kind: "AggrFun", Data: name, Children: args}, nil
		}
		return rewrite.RelNode{Kind: "Function", Data: name, Children: args}, nil
	default:
		return rewrite.RelNode{}, cerr.NewQueryRejected("", fmt.Sprintf("unsupported expression %T", expr))
	}
}
