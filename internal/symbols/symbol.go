// Package symbols implements the member symbol graph and evaluator:
// lazy construction of a per-query Compiler over cube/measure/dimension
// definitions, and an SqlEvaluatorVisitor that walks the graph in
// post-order through an ordered chain of SqlNode decorators.
package symbols

import (
	"regexp"

	"github.com/canonica-labs/cubecompile/internal/cerr"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

// Kind is the sum-type tag for a MemberSymbol.
type Kind int

const (
	KindDimension Kind = iota
	KindTimeDimension
	KindMeasure
	KindCubeName
	KindCubeTable
	KindMemberExpression
)

// Symbol is a node of the member dependency graph. Exactly one of
// Dimension/Measure is populated, selected by Kind; CubeName/CubeTable/
// MemberExpression symbols carry no schema definition.
type Symbol struct {
	Kind        Kind
	FullNameVal string
	CubeNameVal string
	NameVal     string
	Dimension   *schema.Dimension
	Measure     *schema.Measure
	Granularity string // set when Kind == KindTimeDimension

	deps      []string // full names, resolved lazily on first dependency walk
	argNames  []string // raw positional arg names (args_names())
}

func (s *Symbol) FullName() string { return s.FullNameVal }
func (s *Symbol) CubeName() string { return s.CubeNameVal }
func (s *Symbol) Name() string     { return s.NameVal }

// OwnedByCube reports whether this symbol's SQL is a pure computation on its
// own cube, i.e. it has no dependencies that cross to another cube's alias
// without an explicit join path already covering it.
func (s *Symbol) OwnedByCube(c *Compiler) bool {
	for _, dep := range s.GetDependencies(c) {
		if dep.CubeName() != s.CubeName() {
			return false
		}
	}
	return true
}

// GetDependencies returns the resolved dependency symbols, resolving and
// caching them in the owning Compiler on first access.
func (s *Symbol) GetDependencies(c *Compiler) []*Symbol {
	out := make([]*Symbol, 0, len(s.deps))
	for _, full := range s.deps {
		if dep, err := c.resolve(full); err == nil {
			out = append(out, dep)
		}
	}
	return out
}

// GetDependentCubes returns the distinct set of cube names referenced by
// this symbol's dependencies.
func (s *Symbol) GetDependentCubes(c *Compiler) []string {
	seen := map[string]bool{}
	var out []string
	for _, dep := range s.GetDependencies(c) {
		if !seen[dep.CubeName()] {
			seen[dep.CubeName()] = true
			out = append(out, dep.CubeName())
		}
	}
	return out
}

// placeholderPattern matches {CUBE.member} / {cube.member} references inside
// a schema sql body, the positional argument surface of a symbol.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*)\}`)

// ArgsNames extracts the raw {cube.member} references from a sql body, in
// order of first appearance, deduplicated.
func ArgsNames(sqlBody string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(sqlBody, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Compiler maintains the per-query map<full_name, Symbol> described in
// It is scoped to a single query; nothing here is shared
// across queries.
type Compiler struct {
	schema  *schema.Schema
	symbols map[string]*Symbol
}

// NewCompiler creates an empty, per-query symbol compiler over s.
func NewCompiler(s *schema.Schema) *Compiler {
	return &Compiler{schema: s, symbols: make(map[string]*Symbol)}
}

// resolve returns an already-built symbol, or builds it via AddAutoResolved.
func (c *Compiler) resolve(fullName string) (*Symbol, error) {
	if sym, ok := c.symbols[fullName]; ok {
		return sym, nil
	}
	return c.AddAutoResolved(fullName)
}

// AddAutoResolved builds (and caches) the symbol for fullName, dispatching
// by path classification: measure, dimension, or bare cube name. Dependency
// full names are recorded but not recursively built here; GetDependencies
// triggers lazy construction one level at a time, so only symbols reachable
// from the query actually get built.
func (c *Compiler) AddAutoResolved(fullName string) (*Symbol, error) {
	if sym, ok := c.symbols[fullName]; ok {
		return sym, nil
	}

	cubeName, memberName, ok := splitFullName(fullName)
	if !ok {
		if _, exists := c.schema.Cube(fullName); exists {
			sym := &Symbol{Kind: KindCubeName, FullNameVal: fullName, CubeNameVal: fullName, NameVal: fullName}
			c.symbols[fullName] = sym
			return sym, nil
		}
		return nil, cerr.NewUnknownMember(fullName)
	}

	if m, exists := c.schema.Measure(fullName); exists {
		sym := &Symbol{
			Kind:        KindMeasure,
			FullNameVal: fullName,
			CubeNameVal: cubeName,
			NameVal:     memberName,
			Measure:     m,
			argNames:    ArgsNames(m.SQL),
		}
		sym.deps = qualify(cubeName, sym.argNames)
		c.symbols[fullName] = sym
		return sym, nil
	}

	if d, exists := c.schema.Dimension(fullName); exists {
		kind := KindDimension
		if d.Type == schema.DimensionTime {
			kind = KindTimeDimension
		}
		sym := &Symbol{
			Kind:        kind,
			FullNameVal: fullName,
			CubeNameVal: cubeName,
			NameVal:     memberName,
			Dimension:   d,
			argNames:    ArgsNames(d.SQL),
		}
		sym.deps = qualify(cubeName, sym.argNames)
		c.symbols[fullName] = sym
		return sym, nil
	}

	return nil, cerr.NewUnknownMember(fullName)
}

// ResolveTimeDimension returns a copy of fullName's time dimension symbol
// with Granularity set for this selection. It is a copy rather than a cache
// mutation because a single query can select the same time dimension at two
// different granularities (a time-dimension selection is
// per-selection, not per-member).
func (c *Compiler) ResolveTimeDimension(fullName, granularity string) (*Symbol, error) {
	base, err := c.resolve(fullName)
	if err != nil {
		return nil, err
	}
	if base.Kind != KindTimeDimension {
		return nil, cerr.NewUnknownMember(fullName)
	}
	cp := *base
	cp.Granularity = granularity
	return &cp, nil
}

// qualify rewrites bare "CUBE.member" references to the owning cube's name,
// leaving already-qualified "other_cube.member" references untouched; the
// "local cube first, then qualified cube.x" resolution order.
func qualify(owningCube string, refs []string) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		cube, member, _ := splitFullName(r)
		if cube == "CUBE" {
			out[i] = owningCube + "." + member
		} else {
			out[i] = r
		}
	}
	return out
}

func splitFullName(full string) (cube, member string, ok bool) {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return full[:i], full[i+1:], true
		}
	}
	return "", "", false
}
