// Package filter implements the immutable filter tree and visitor context:
// FilterItem's sum type, static-value-restriction search used to
// specialize switch dimensions, and render-reference plumbing the physical
// emitter uses to inject back-references to outer-query columns.
package filter

// Op is a filter comparison operator.
type Op string

const (
	OpEquals    Op = "equals"
	OpNotEquals Op = "notEquals"
	OpIn        Op = "in"
	OpNotIn     Op = "notIn"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpSet       Op = "set"
	OpNotSet    Op = "notSet"
	OpContains  Op = "contains"
)

// GroupKind distinguishes AND/OR grouping of filter items.
type GroupKind string

const (
	GroupAnd GroupKind = "and"
	GroupOr  GroupKind = "or"
)

// Item is the sum type every node of the filter tree implements. It is a
// closed set by convention (ValueItem, Group, Segment); callers type-switch on
// the concrete types below rather than on an open interface method set.
type Item interface {
	isFilterItem()
}

// ValueItem is a leaf filter: a single symbol compared against a value set.
type ValueItem struct {
	Symbol string
	Op     Op
	Values []string
}

func (ValueItem) isFilterItem() {}

// Group is an AND/OR grouping of nested filter items.
type Group struct {
	Kind  GroupKind
	Items []Item
}

func (Group) isFilterItem() {}

// Segment references a named, schema-defined boolean filter shortcut.
type Segment struct {
	Symbol string
}

func (Segment) isFilterItem() {}

// FindValueRestriction searches filters reachable only through AND groups
// for a single-symbol equality/IN restriction on symbol, returning the
// permitted value set. It does not descend into OR groups: an OR branch
// cannot guarantee the restriction holds for every row, so it is not safe
// to use for static specialization.
func FindValueRestriction(root Item, symbol string) ([]string, bool) {
	switch n := root.(type) {
	case ValueItem:
		if n.Symbol == symbol && (n.Op == OpEquals || n.Op == OpIn) {
			return n.Values, true
		}
		return nil, false
	case Group:
		if n.Kind != GroupAnd {
			return nil, false
		}
		for _, child := range n.Items {
			if vals, ok := FindValueRestriction(child, symbol); ok {
				return vals, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// VisitorContext is carried through symbol evaluation. RenderReferences
// lets a parent plan inject a column reference instead of re-expanding a
// symbol; AliasPrefix and CubeAliasPrefix control identifier prefixing;
// the remaining fields carry the security context, the active time shift,
// and the rolling-window and ungrouped evaluation flags.
type VisitorContext struct {
	AliasPrefix       string
	CubeAliasPrefix   string
	RenderReferences  map[string]string
	SecurityContext   map[string]string
	TimeShiftInterval string
	TimeShiftName     string
	InsideRollingWindow bool
	Ungrouped         bool
}

// WithRenderReference returns a copy of ctx with one additional render
// reference, leaving the receiver untouched (logical-plan nodes are value
// types; contexts follow the same immutability discipline).
func (ctx VisitorContext) WithRenderReference(fullName, sqlFragment string) VisitorContext {
	next := make(map[string]string, len(ctx.RenderReferences)+1)
	for k, v := range ctx.RenderReferences {
		next[k] = v
	}
	next[fullName] = sqlFragment
	cp := ctx
	cp.RenderReferences = next
	return cp
}

// RenderReference returns the overriding SQL fragment for fullName, if any.
func (ctx VisitorContext) RenderReference(fullName string) (string, bool) {
	if ctx.RenderReferences == nil {
		return "", false
	}
	v, ok := ctx.RenderReferences[fullName]
	return v, ok
}

// Walk applies visit to every node of the filter tree in pre-order.
func Walk(root Item, visit func(Item)) {
	visit(root)
	if g, ok := root.(Group); ok {
		for _, child := range g.Items {
			Walk(child, visit)
		}
	}
}

// Symbols returns every member full name referenced anywhere in the filter
// tree (ValueItem.Symbol and Segment.Symbol), used by the pre-aggregation
// matcher's filters_ok check.
func Symbols(root Item) []string {
	var out []string
	seen := map[string]bool{}
	Walk(root, func(it Item) {
		var sym string
		switch n := it.(type) {
		case ValueItem:
			sym = n.Symbol
		case Segment:
			sym = n.Symbol
		default:
			return
		}
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	})
	return out
}
