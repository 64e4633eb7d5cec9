// Package cerr provides the typed, observable error kinds the compiler can
// produce. Every kind embeds CompileError, which carries a
// human-readable message, the offending member path where applicable, and
// a pretty-printed logical-plan snippet for user-facing diagnostics.
//
// All failure modes are typed results; nothing in this package panics.
package cerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a compile error for callers that need coarse dispatch
// (e.g. the CLI's exit-code mapping) without type-switching on every kind.
type Code int

const (
	CodeUnknownMember Code = iota + 1
	CodeAmbiguousJoin
	CodeCycleDetected
	CodeDialectUnsupported
	CodeRewriteCannotDecide
	CodeInvalidMultiStage
	CodePreAggregationMismatch
	CodeCancelled
	CodeInternal
	CodeQueryRejected
)

// CompileError is the shared base every concrete error kind embeds.
type CompileError struct {
	Code       Code
	Message    string
	MemberPath string
	PrettyPlan string
	Cause      error
}

func (e *CompileError) Error() string {
	msg := e.Message
	if e.MemberPath != "" {
		msg = fmt.Sprintf("%s (member: %s)", msg, e.MemberPath)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *CompileError) Unwrap() error { return e.Cause }

// WithPlan attaches a pretty-printed logical plan snippet and returns the
// receiver for chaining at the point an error escapes compilation.
func (e *CompileError) WithPlan(plan string) *CompileError {
	e.PrettyPlan = plan
	return e
}

// UnknownMember: a referenced symbol path does not resolve.
type UnknownMember struct{ CompileError }

func NewUnknownMember(path string) *UnknownMember {
	return &UnknownMember{CompileError{
		Code:       CodeUnknownMember,
		Message:    "unknown member",
		MemberPath: path,
	}}
}

// AmbiguousJoin: the join graph cannot produce a unique tree.
type AmbiguousJoin struct {
	CompileError
	Cubes []string
}

func NewAmbiguousJoin(cubes []string) *AmbiguousJoin {
	return &AmbiguousJoin{
		CompileError: CompileError{
			Code:    CodeAmbiguousJoin,
			Message: "join graph cannot produce a unique tree",
		},
		Cubes: cubes,
	}
}

// CycleDetected: a symbol graph cycle was found during post-order evaluation.
type CycleDetected struct{ CompileError }

func NewCycleDetected(path string) *CycleDetected {
	return &CycleDetected{CompileError{
		Code:       CodeCycleDetected,
		Message:    "cycle detected while evaluating member",
		MemberPath: path,
	}}
}

// DialectUnsupported: a required SQL template is not registered for the
// target dialect.
type DialectUnsupported struct {
	CompileError
	TemplatePath string
}

func NewDialectUnsupported(templatePath string) *DialectUnsupported {
	return &DialectUnsupported{
		CompileError: CompileError{
			Code:    CodeDialectUnsupported,
			Message: fmt.Sprintf("dialect does not support template %q", templatePath),
		},
		TemplatePath: templatePath,
	}
}

// RewriteCannotDecide: e-graph saturation finished without reaching a clean
// wrapping or normalization.
type RewriteCannotDecide struct{ CompileError }

func NewRewriteCannotDecide(reason string) *RewriteCannotDecide {
	return &RewriteCannotDecide{CompileError{
		Code:    CodeRewriteCannotDecide,
		Message: "rewriter could not decide a canonical plan: " + reason,
	}}
}

// InvalidMultiStage: a multi-stage measure invariant was violated.
type InvalidMultiStage struct {
	CompileError
	Measure string
	Reason  string
}

func NewInvalidMultiStage(measure, reason string) *InvalidMultiStage {
	return &InvalidMultiStage{
		CompileError: CompileError{
			Code:       CodeInvalidMultiStage,
			Message:    fmt.Sprintf("invalid multi-stage measure %s: %s", measure, reason),
			MemberPath: measure,
		},
		Measure: measure,
		Reason:  reason,
	}
}

// PreAggregationMismatch is internal and swallowed: the matcher uses it to
// fall through to the non-pre-aggregated plan. It is never surfaced to a
// caller of Compile.
type PreAggregationMismatch struct {
	CompileError
	PreAggregation string
	Reason         string
}

func NewPreAggregationMismatch(preAgg, reason string) *PreAggregationMismatch {
	return &PreAggregationMismatch{
		CompileError: CompileError{
			Code:    CodePreAggregationMismatch,
			Message: fmt.Sprintf("pre-aggregation %s does not match: %s", preAgg, reason),
		},
		PreAggregation: preAgg,
		Reason:         reason,
	}
}

// Cancelled: cooperative cancellation occurred.
type Cancelled struct{ CompileError }

func NewCancelled() *Cancelled {
	return &Cancelled{CompileError{
		Code:    CodeCancelled,
		Message: "compilation cancelled",
	}}
}

// Internal: an assertion or unreachable code path was hit.
type Internal struct{ CompileError }

func NewInternal(msg string, cause error) *Internal {
	return &Internal{CompileError{
		Code:    CodeInternal,
		Message: "internal error: " + msg,
		Cause:   errors.WithStack(cause),
	}}
}

// QueryRejected: raw SQL text could not be ingested: unparseable, multiple
// statements, or a statement kind other than SELECT (an ingestion
// contract for the CompileSQL entry point).
type QueryRejected struct {
	CompileError
	RawSQL string
	Reason string
}

func NewQueryRejected(rawSQL, reason string) *QueryRejected {
	return &QueryRejected{
		CompileError: CompileError{
			Code:    CodeQueryRejected,
			Message: "query rejected: " + reason,
		},
		RawSQL: rawSQL,
		Reason: reason,
	}
}

// IsPreAggregationMismatch reports whether err is the internal mismatch kind,
// the one case a caller inside the compiler (never outside it) branches on.
func IsPreAggregationMismatch(err error) bool {
	_, ok := err.(*PreAggregationMismatch)
	return ok
}
