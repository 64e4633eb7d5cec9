package symbols

import (
	"strings"

	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// ApplyRecursive is the structural map over a symbol and its dependencies:
// f is applied to every dependency of sym (post-order) and finally to sym
// itself; a replaced dependency is re-registered in the compiler under its
// full name so subsequent evaluation picks it up. Cube-to-cube reference
// cycles are tolerated by visiting each full name at most once.
func (c *Compiler) ApplyRecursive(sym *Symbol, f func(*Symbol) *Symbol) *Symbol {
	return c.applyRecursive(sym, f, map[string]bool{})
}

func (c *Compiler) applyRecursive(sym *Symbol, f func(*Symbol) *Symbol, visited map[string]bool) *Symbol {
	if visited[sym.FullName()] {
		return sym
	}
	visited[sym.FullName()] = true
	for _, dep := range sym.GetDependencies(c) {
		replaced := c.applyRecursive(dep, f, visited)
		if replaced != dep {
			c.symbols[replaced.FullName()] = replaced
		}
	}
	return f(sym)
}

// ApplyStaticFilterToSymbol specializes a case/switch dimension to the value
// set a reachable AND-only equality/IN filter permits, dropping CASE
// branches whose guard contradicts the filter. Symbols that
// are not case dimensions, or that carry no value restriction, are returned
// untouched, which also makes repeated application a no-op.
func ApplyStaticFilterToSymbol(c *Compiler, sym *Symbol, filters filter.Item) *Symbol {
	if filters == nil || sym.Dimension == nil || len(sym.Dimension.Case) == 0 {
		return sym
	}
	values, ok := filter.FindValueRestriction(filters, sym.FullName())
	if !ok || len(values) == 0 {
		return sym
	}

	kept := make([]schema.CaseBranch, 0, len(sym.Dimension.Case))
	for _, branch := range sym.Dimension.Case {
		if branchPermitted(branch, values) {
			kept = append(kept, branch)
		}
	}
	if len(kept) == len(sym.Dimension.Case) {
		return sym
	}

	cp := *sym
	dim := *sym.Dimension
	dim.Case = kept
	cp.Dimension = &dim
	return &cp
}

// branchPermitted reports whether a CASE branch can still fire under the
// permitted value set: its THEN result is one of the values, or its guard
// mentions one of them as a quoted literal.
func branchPermitted(branch schema.CaseBranch, values []string) bool {
	for _, v := range values {
		quoted := "'" + v + "'"
		if branch.Then == v || branch.Then == quoted {
			return true
		}
		if strings.Contains(branch.When, quoted) {
			return true
		}
	}
	return false
}
