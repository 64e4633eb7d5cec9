package physical

import "fmt"

// ReferencesBuilder tracks, per flattened query stage, which output column
// alias a member full name was projected under, so a parent node can refer
// back to a child's column by alias instead of re-expanding the member's SQL
// (the parent/child reference tracking mechanism
// FullKeyAggregate and ResolveMultipliedMeasures lean on to read a prior
// stage's output rather than recomputing it).
type ReferencesBuilder struct {
	aliases  map[string]string // member full name -> column alias, current stage
	stages   []map[string]string
	counters map[string]int
}

// NewReferencesBuilder returns an empty builder.
func NewReferencesBuilder() *ReferencesBuilder {
	return &ReferencesBuilder{aliases: map[string]string{}, counters: map[string]int{}}
}

// Alias returns a stable, collision-free output column alias for a member
// full name, registering it for later lookup via Reference.
func (r *ReferencesBuilder) Alias(fullName string) string {
	if a, ok := r.aliases[fullName]; ok {
		return a
	}
	base := sanitizeAlias(fullName)
	n := r.counters[base]
	r.counters[base] = n + 1
	alias := base
	if n > 0 {
		alias = fmt.Sprintf("%s_%d", base, n)
	}
	r.aliases[fullName] = alias
	return alias
}

// Reference returns the previously assigned alias for fullName, if any.
func (r *ReferencesBuilder) Reference(fullName string) (string, bool) {
	a, ok := r.aliases[fullName]
	return a, ok
}

// PushStage snapshots the current alias table onto a stack and clears the
// working set, used when the emitter descends into a nested CTE whose
// column aliases should not leak into the parent's render-reference lookup.
func (r *ReferencesBuilder) PushStage() {
	snapshot := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		snapshot[k] = v
	}
	r.stages = append(r.stages, snapshot)
	r.aliases = map[string]string{}
}

// PopStage restores the alias table saved by the matching PushStage.
func (r *ReferencesBuilder) PopStage() {
	if len(r.stages) == 0 {
		return
	}
	last := len(r.stages) - 1
	r.aliases = r.stages[last]
	r.stages = r.stages[:last]
}

func sanitizeAlias(fullName string) string {
	out := make([]byte, len(fullName))
	for i := 0; i < len(fullName); i++ {
		c := fullName[i]
		if c == '.' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
