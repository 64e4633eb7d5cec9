package schema

import "sort"

// JoinStep is one edge of a resolved join tree: join `Cube` into the
// accumulating from-clause using the schema-declared join whose from-cube
// already appears in the tree.
type JoinStep struct {
	Cube         string
	Relationship JoinRelationship
	OnSQL        string
}

// JoinTree is a unique left-deep join of a set of cubes, rooted at a
// deterministically chosen cube.
type JoinTree struct {
	Root  string
	Steps []JoinStep
}

// JoinGraph answers build_join queries against a Schema's declared joins.
// It has no mutable state: it is derived fresh from the Schema on each call,
// matching the "no global mutable state" design note.
type JoinGraph struct {
	schema *Schema
	// adjacency: cube -> direct joins declared on that cube
	adjacency map[string][]Join
}

// NewJoinGraph builds the adjacency index used by BuildJoin.
func NewJoinGraph(s *Schema) *JoinGraph {
	g := &JoinGraph{schema: s, adjacency: make(map[string][]Join)}
	for _, name := range s.CubeNames() {
		c, _ := s.Cube(name)
		g.adjacency[name] = append(g.adjacency[name], c.Joins...)
		for _, j := range c.Joins {
			// joins are declared one-directional in YAML; allow traversal
			// from the far side too so undirected connectivity holds.
			g.adjacency[j.ToCube] = append(g.adjacency[j.ToCube], Join{
				FromCube:     j.ToCube,
				ToCube:       name,
				Relationship: invert(j.Relationship),
				OnSQL:        j.OnSQL,
			})
		}
	}
	return g
}

func invert(r JoinRelationship) JoinRelationship {
	switch r {
	case ManyToOne:
		return OneToMany
	case OneToMany:
		return ManyToOne
	default:
		return OneToOne
	}
}

// AmbiguousJoinError is returned when no single root cube reaches every
// requested cube via a unique path.
type AmbiguousJoinError struct {
	Cubes []string
}

func (e *AmbiguousJoinError) Error() string {
	return "schema: join graph cannot produce a unique tree for cubes " + joinNames(e.Cubes)
}

func joinNames(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	out := ""
	for i, n := range sorted {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// BuildJoin returns the unique left-deep join of the given cube set. The
// root is the deterministically chosen cube whose join paths reach all
// others; candidates are tried in schema declaration order so the result is
// stable under set-insertion order.
func (g *JoinGraph) BuildJoin(cubes []string) (*JoinTree, error) {
	want := make(map[string]bool, len(cubes))
	for _, c := range cubes {
		want[c] = true
	}

	for _, candidate := range orderedSubset(g.schema.CubeNames(), want) {
		steps, ok := g.bfsSpanningTree(candidate, want)
		if ok {
			return &JoinTree{Root: candidate, Steps: steps}, nil
		}
	}
	return nil, &AmbiguousJoinError{Cubes: cubes}
}

func orderedSubset(order []string, want map[string]bool) []string {
	var out []string
	for _, n := range order {
		if want[n] {
			out = append(out, n)
		}
	}
	return out
}

// bfsSpanningTree attempts to reach every cube in want starting from root,
// returning the ordered join steps of a breadth-first spanning tree. Ties
// among multiple edges into the same cube are broken by schema declaration
// order, which adjacency preserves.
func (g *JoinGraph) bfsSpanningTree(root string, want map[string]bool) ([]JoinStep, bool) {
	visited := map[string]bool{root: true}
	parent := map[string]Join{}
	from := map[string]string{}
	var discovered []string
	queue := []string{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, j := range g.adjacency[cur] {
			if visited[j.ToCube] {
				continue
			}
			visited[j.ToCube] = true
			parent[j.ToCube] = j
			from[j.ToCube] = cur
			discovered = append(discovered, j.ToCube)
			queue = append(queue, j.ToCube)
		}
	}

	for c := range want {
		if !visited[c] {
			return nil, false
		}
	}

	// Intermediate cubes on the path to a wanted cube must be joined too,
	// or a downstream ON-clause would reference an alias that is never in
	// the FROM chain.
	needed := map[string]bool{}
	for c := range want {
		for n := c; n != root; n = from[n] {
			needed[n] = true
		}
	}

	var steps []JoinStep
	for _, n := range discovered {
		if !needed[n] {
			continue
		}
		j := parent[n]
		steps = append(steps, JoinStep{
			Cube:         j.ToCube,
			Relationship: j.Relationship,
			OnSQL:        j.OnSQL,
		})
	}
	return steps, true
}
