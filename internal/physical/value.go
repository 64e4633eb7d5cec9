// Package physical implements the physical plan builder and emitter:
// a single post-order pass over the logical plan that generates
// dialect-specific SQL via symbols and the dialect template set,
// allocating parameters through a ParamsAllocator and tracking per-node
// column aliasing through a ReferencesBuilder.
package physical

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValueKind tags which field of Value is populated.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindNull
)

// Value is a literal parameter bound into the emitted SQL's placeholder
// vector. Numeric literals are kept as exact github.com/shopspring/decimal
// values rather than float64 so repeated emission/param-dedup never suffers
// a float round-trip mismatch; the placeholder-to-params mapping must stay
// bit-exact.
type Value struct {
	Kind ValueKind
	Str  string
	Num  decimal.Decimal
	Bool bool
}

// StringValue builds a string-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue builds a bool-kind Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NullValue builds the SQL NULL literal Value.
func NullValue() Value { return Value{Kind: KindNull} }

// NumberValue parses s as an exact decimal; callers that already have a
// string (e.g. from a FilterItem's Values[]) use this to avoid a float
// detour. Falls back to a string-kind Value when s does not parse as a
// number so callers never need to pre-validate the filter's literal shape.
func NumberValue(s string) Value {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return StringValue(s)
	}
	return Value{Kind: KindNumber, Num: d}
}

// dedupKey returns a string uniquely identifying v's logical value, the key
// ParamsAllocator's dedup mode hashes on.
func (v Value) dedupKey() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return "n:" + v.Num.String()
	case KindBool:
		return fmt.Sprintf("b:%v", v.Bool)
	default:
		return "null"
	}
}

// SQLLiteral renders v as a literal for dialects/tests that want to inline
// rather than parameterize (the compiler itself always parameterizes via
// ParamsAllocator; this is a convenience for golden-plan printing).
func (v Value) SQLLiteral() string {
	switch v.Kind {
	case KindString:
		return "'" + escapeQuote(v.Str) + "'"
	case KindNumber:
		return v.Num.String()
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "NULL"
	}
}

func escapeQuote(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
