package physical

import (
	"fmt"
	"regexp"
	"strconv"
)

// placeholderPrefix/placeholderSuffix bracket an allocator-internal
// placeholder so it survives dialect template substitution untouched until
// the final Rewrite pass converts it to the target's native parameter
// syntax. The internal placeholder form is $_N_$, N decimal, 0-based, in
// allocation order.
const (
	placeholderPrefix = "$_"
	placeholderSuffix = "_$"
)

// ParamsAllocator assigns internal "$_N_$" placeholders (N 0-based, in
// allocation order) to literal values encountered while emitting a query.
// When ShouldReuseParams is set, two Allocate calls for an equal value
// share one placeholder, keeping the parameter vector stable across
// repeated literals (e.g. the same date-range bound appearing in both a
// WHERE and a HAVING clause).
type ParamsAllocator struct {
	ShouldReuseParams bool

	values  []Value
	byValue map[string]int // dedupKey -> 0-based index, only populated when reusing
}

// NewParamsAllocator returns an allocator with reuse disabled; callers that
// want the should_reuse_params behavior set the field directly after
// construction.
func NewParamsAllocator() *ParamsAllocator {
	return &ParamsAllocator{byValue: map[string]int{}}
}

// Allocate records v and returns its placeholder text to splice into the SQL
// under construction.
func (p *ParamsAllocator) Allocate(v Value) string {
	if p.ShouldReuseParams {
		if idx, ok := p.byValue[v.dedupKey()]; ok {
			return placeholder(idx)
		}
	}
	idx := len(p.values)
	p.values = append(p.values, v)
	if p.ShouldReuseParams {
		p.byValue[v.dedupKey()] = idx
	}
	return placeholder(idx)
}

func placeholder(idx int) string {
	return placeholderPrefix + strconv.Itoa(idx) + placeholderSuffix
}

// Params returns the allocated values in allocation order (0-indexed slot N
// is Params()[N]).
func (p *ParamsAllocator) Params() []Value {
	return p.values
}

var placeholderPattern = regexp.MustCompile(`\$_(\d+)_\$`)

// usesNamedPlaceholders reports whether dialectName addresses parameters by
// name ($1, $2, ...) rather than strict call-site order ("?"). Driver
// packages that bind by ordinal ("?": mysql, sqlite, bigquery's REST
// binding) need one argument per occurrence even when two occurrences
// share a deduplicated value.
func usesNamedPlaceholders(dialectName string) bool {
	switch dialectName {
	case "postgres", "duckdb", "snowflake", "trino":
		return true
	default: // mysql, bigquery, sqlite
		return false
	}
}

// Rewrite replaces every internal "$_N_$" placeholder in sql with
// dialectName's native parameter syntax, and returns the parameter vector to
// bind alongside it. For named-parameter dialects this rewrites 0-based N
// into the 1-based "$1, $2, ..." source-order form each dialect expects
// and returns Params() unchanged; for ordinal ("?") dialects the returned
// vector is expanded to one entry per occurrence, in the order the
// placeholders appear in sql, so a should_reuse_params-deduplicated value
// that appears twice still binds twice.
func (p *ParamsAllocator) Rewrite(sql string, dialectName string) (string, []Value) {
	if usesNamedPlaceholders(dialectName) {
		out := placeholderPattern.ReplaceAllStringFunc(sql, func(m string) string {
			idx := placeholderIndex(m)
			return fmt.Sprintf("$%d", idx+1)
		})
		return out, p.values
	}

	var ordered []Value
	out := placeholderPattern.ReplaceAllStringFunc(sql, func(m string) string {
		idx := placeholderIndex(m)
		if idx >= 0 && idx < len(p.values) {
			ordered = append(ordered, p.values[idx])
		}
		return "?"
	})
	return out, ordered
}

func placeholderIndex(match string) int {
	groups := placeholderPattern.FindStringSubmatch(match)
	idx, _ := strconv.Atoi(groups[1])
	return idx
}
