// Package dialect holds the per-target SQL template sets the physical
// emitter and symbol evaluator render through, plus the
// capability-style "template availability" check the rewriter consults
// before attempting a pushdown rule: "does this dialect register this SQL
// expression template" plays the role a per-engine capability matrix plays
// in a federation gateway.
package dialect

import (
	"fmt"
	"strings"
)

// Name identifies a target SQL dialect.
type Name string

const (
	Postgres  Name = "postgres"
	MySQL     Name = "mysql"
	DuckDB    Name = "duckdb"
	Snowflake Name = "snowflake"
	BigQuery  Name = "bigquery"
	Trino     Name = "trino"
)

// TemplateSet is a string->string map keyed by template path
// ("expressions/equals", "statements/select", ...), rendered by
// {placeholder} substitution.
type TemplateSet struct {
	Name      Name
	templates map[string]string
	quoteChar string
}

// Render substitutes {key: value} placeholders in the named template.
// Placeholder syntax is "{name}"; values are substituted verbatim since
// callers pass already-quoted/escaped SQL fragments.
func (t *TemplateSet) Render(path string, values map[string]string) (string, error) {
	tmpl, ok := t.templates[path]
	if !ok {
		return "", fmt.Errorf("dialect: template %q not registered for %s", path, t.Name)
	}
	out := tmpl
	for k, v := range values {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out, nil
}

// CanRewriteTemplate reports whether path is registered, the check the
// rewriter's pushdown/pullup rule pairs guard on before firing.
func (t *TemplateSet) CanRewriteTemplate(path string) bool {
	_, ok := t.templates[path]
	return ok
}

// QuoteIdentifier quotes an identifier using the dialect's quote character.
func (t *TemplateSet) QuoteIdentifier(ident string) string {
	q := t.quoteChar
	escaped := strings.ReplaceAll(ident, q, q+q)
	return q + escaped + q
}

func base(name Name, quote string) map[string]string {
	_ = quote
	return map[string]string{
		"expressions/equals":      "{lhs} = {rhs}",
		"expressions/not_equals":  "{lhs} <> {rhs}",
		"expressions/in":          "{lhs} IN ({rhs})",
		"expressions/not_in":      "{lhs} NOT IN ({rhs})",
		"expressions/not":         "NOT ({expr})",
		"expressions/concat":      "CONCAT({args})",
		"expressions/negative":    "-({expr})",
		"expressions/case":        "CASE {when_then}{else} END",
		"expressions/case_when":   "WHEN {cond} THEN {result}",
		"expressions/case_else":   " ELSE {result}",
		"expressions/hll_merge":   "CARDINALITY(HLL_MERGE({expr}))",
		"expressions/full_outer_join": "FULL JOIN",
		"statements/select":       "SELECT {select} FROM {from}{where}{groupby}{having}{orderby}{limit}{offset}",
	}
}

// New builds a TemplateSet for name, seeded with the base set plus any
// per-dialect overrides for time-bucketing, quoting, and time-travel-style
// date syntax (the latter informed by the Snowflake/BigQuery/Trino wire
// wire conventions, even though no client for those
// services is constructed here).
func New(name Name) (*TemplateSet, error) {
	ts := &TemplateSet{Name: name, templates: base(name, "")}
	switch name {
	case Postgres:
		ts.quoteChar = `"`
		ts.templates["expressions/date_trunc"] = "DATE_TRUNC('{granularity}', {expr})"
		ts.templates["expressions/time_series"] = "generate_series({from}, {to}, interval '1 {granularity}')"
		ts.templates["expressions/time_shift"] = "{expr} + interval '{interval}'"
	case MySQL:
		ts.quoteChar = "`"
		ts.templates["expressions/date_trunc"] = "DATE_FORMAT({expr}, '%Y-%m-%d')"
		ts.templates["expressions/time_shift"] = "DATE_ADD({expr}, INTERVAL {interval})"
	case DuckDB:
		ts.quoteChar = `"`
		ts.templates["expressions/date_trunc"] = "date_trunc('{granularity}', {expr})"
		ts.templates["expressions/time_series"] = "generate_series({from}, {to}, interval '1 {granularity}')"
		ts.templates["expressions/time_shift"] = "{expr} + interval '{interval}'"
	case Snowflake:
		ts.quoteChar = `"`
		ts.templates["expressions/date_trunc"] = "DATE_TRUNC('{granularity}', {expr})"
		// Snowflake's AT(...) time-travel syntax informs the shape of this
		// dialect's shift/offset rendering convention.
		ts.templates["expressions/time_shift"] = "DATEADD('{granularity}', {interval}, {expr})"
	case BigQuery:
		ts.quoteChar = "`"
		ts.templates["expressions/date_trunc"] = "TIMESTAMP_TRUNC({expr}, {granularity})"
		ts.templates["expressions/time_shift"] = "TIMESTAMP_ADD({expr}, INTERVAL {interval})"
	case Trino:
		ts.quoteChar = `"`
		ts.templates["expressions/date_trunc"] = "date_trunc('{granularity}', {expr})"
		ts.templates["expressions/time_shift"] = "{expr} + INTERVAL '{interval}'"
	default:
		return nil, fmt.Errorf("dialect: unknown dialect %q", name)
	}
	return ts, nil
}
