// Package schema holds the immutable cube/measure/dimension/join model
// that a query is compiled against. Schemas are loaded once per session and
// never mutated afterward; every lookup method is read-only.
package schema

import "fmt"

// DimensionType enumerates the kinds of dimension a cube can expose.
type DimensionType string

const (
	DimensionNumber  DimensionType = "number"
	DimensionString  DimensionType = "string"
	DimensionBoolean DimensionType = "boolean"
	DimensionTime    DimensionType = "time"
	DimensionGeo     DimensionType = "geo"
	DimensionSwitch  DimensionType = "switch"
)

// MeasureType enumerates the kinds of measure a cube can expose.
type MeasureType string

const (
	MeasureCount                 MeasureType = "count"
	MeasureSum                   MeasureType = "sum"
	MeasureAvg                   MeasureType = "avg"
	MeasureMin                   MeasureType = "min"
	MeasureMax                   MeasureType = "max"
	MeasureCountDistinct         MeasureType = "countDistinct"
	MeasureCountDistinctApprox   MeasureType = "countDistinctApprox"
	MeasureRank                  MeasureType = "rank"
	MeasureNumber                MeasureType = "number"
	MeasureRunningTotal          MeasureType = "runningTotal"
)

// JoinRelationship drives multiplication-factor analysis: a cube on the
// "many" side of a relationship must have its measures deduplicated before
// being joined to other measure groups.
type JoinRelationship string

const (
	ManyToOne JoinRelationship = "many_to_one"
	OneToMany JoinRelationship = "one_to_many"
	OneToOne  JoinRelationship = "one_to_one"
)

// CaseBranch is one WHEN/THEN arm of a case dimension.
type CaseBranch struct {
	When string `yaml:"when"`
	Then string `yaml:"then"`
}

// TimeShift describes a named or interval-based shift a dimension can carry.
// SQL, when set, is the calendar-defined substitute expression for the
// shifted dimension; "{expr}" inside it is replaced with the dimension's own
// rendered SQL. Without SQL, an interval shift is applied arithmetically at
// emission time.
type TimeShift struct {
	Name     string `yaml:"name,omitempty"`
	Interval string `yaml:"interval,omitempty"`
	SQL      string `yaml:"sql,omitempty"`
}

// Dimension is a schema-level attribute definition belonging to a cube.
type Dimension struct {
	Cube                         string        `yaml:"-"`
	Name                         string        `yaml:"name"`
	Type                         DimensionType `yaml:"type"`
	SQL                          string        `yaml:"sql,omitempty"`
	CaseElse                     string        `yaml:"caseElse,omitempty"`
	Case                         []CaseBranch  `yaml:"case,omitempty"`
	Latitude                     string        `yaml:"latitude,omitempty"`
	Longitude                    string        `yaml:"longitude,omitempty"`
	PrimaryKey                   bool          `yaml:"primaryKey,omitempty"`
	SubQuery                     bool          `yaml:"subQuery,omitempty"`
	TimeShift                    []TimeShift   `yaml:"timeShift,omitempty"`
	PropagateFiltersToSubQuery   bool          `yaml:"propagateFiltersToSubQuery,omitempty"`
	Values                       []string      `yaml:"values,omitempty"`
}

// FullName returns the "cube.member" identifier used throughout the compiler.
func (d Dimension) FullName() string { return d.Cube + "." + d.Name }

// MeasureFilter is a row-level filter attached to a measure definition.
type MeasureFilter struct {
	SQL string `yaml:"sql"`
}

// RollingWindow describes a rolling-window measure's lookback/forward bounds.
type RollingWindow struct {
	Trailing string `yaml:"trailing,omitempty"`
	Leading  string `yaml:"leading,omitempty"`
	Offset   string `yaml:"offset,omitempty"`
}

// Measure is a schema-level numeric aggregation definition belonging to a cube.
type Measure struct {
	Cube          string          `yaml:"-"`
	Name          string          `yaml:"name"`
	Type          MeasureType     `yaml:"type"`
	SQL           string          `yaml:"sql,omitempty"`
	Filters       []MeasureFilter `yaml:"filters,omitempty"`
	OrderBy       []string        `yaml:"orderBy,omitempty"`
	RollingWindow *RollingWindow  `yaml:"rollingWindow,omitempty"`
	TimeShiftRefs []string        `yaml:"timeShiftRefs,omitempty"`
	MultiStage    bool            `yaml:"multiStage,omitempty"`
	ReduceBy      []string        `yaml:"reduceBy,omitempty"`
	AddGroupBy    []string        `yaml:"addGroupBy,omitempty"`
	GroupBy       []string        `yaml:"groupBy,omitempty"`
}

// FullName returns the "cube.member" identifier used throughout the compiler.
func (m Measure) FullName() string { return m.Cube + "." + m.Name }

// TimeDimensionRef ties a time dimension to the granularity a pre-aggregation
// stores it at.
type TimeDimensionRef struct {
	Dimension   string `yaml:"dimension"`
	Granularity string `yaml:"granularity"`
}

// PreAggregationType enumerates how a pre-aggregation is materialized.
type PreAggregationType string

const (
	PreAggRollup     PreAggregationType = "rollup"
	PreAggRollupJoin PreAggregationType = "rollupJoin"
	PreAggOriginalSQL PreAggregationType = "originalSql"
)

// PreAggregation is a materialized rollup definition attached to a cube.
type PreAggregation struct {
	Cube                         string             `yaml:"-"`
	Name                         string             `yaml:"name"`
	Type                         PreAggregationType `yaml:"type"`
	Measures                     []string           `yaml:"measures,omitempty"`
	Dimensions                   []string           `yaml:"dimensions,omitempty"`
	TimeDimensions               []TimeDimensionRef  `yaml:"timeDimensions,omitempty"`
	Granularity                  string              `yaml:"granularity,omitempty"`
	PartitionGranularity         string              `yaml:"partitionGranularity,omitempty"`
	External                     bool                `yaml:"external,omitempty"`
	AllowNonStrictDateRangeMatch bool                `yaml:"allowNonStrictDateRangeMatch,omitempty"`
}

// ID returns the deterministic identifier ("cube.name") used to name the
// rollup table and to report used_pre_aggregations.
func (p PreAggregation) ID() string { return p.Cube + "." + p.Name }

// Join describes a relationship from one cube to another.
type Join struct {
	FromCube     string           `yaml:"-"`
	ToCube       string           `yaml:"name"`
	Relationship JoinRelationship `yaml:"relationship"`
	OnSQL        string           `yaml:"sql"`
}

// Cube is a logical table: measures, dimensions, joins and pre-aggregations
// over a SQL table or SQL body.
type Cube struct {
	Name            string           `yaml:"name"`
	SQLTable        string           `yaml:"sqlTable,omitempty"`
	SQL             string           `yaml:"sql,omitempty"`
	Joins           []Join           `yaml:"joins,omitempty"`
	Dimensions      []Dimension      `yaml:"dimensions,omitempty"`
	Measures        []Measure        `yaml:"measures,omitempty"`
	PreAggregations []PreAggregation `yaml:"preAggregations,omitempty"`
}

// Source returns the from-clause body: either the table name or a
// parenthesized sub-select, whichever was supplied.
func (c Cube) Source() string {
	if c.SQLTable != "" {
		return c.SQLTable
	}
	return "(" + c.SQL + ")"
}

// Document is the top-level YAML document: a list of cube definitions.
type Document struct {
	Cubes []Cube `yaml:"cubes"`
}

// Schema is the immutable, queryable cube model produced by a Loader.
// All lookups are read-only and safe for concurrent use by many queries.
type Schema struct {
	cubes      map[string]*Cube
	dimensions map[string]*Dimension
	measures   map[string]*Measure
	order      []string // cube names in declaration order, for determinism
}

// New indexes a Document into a queryable Schema. It does not validate
// referential integrity beyond duplicate-name detection; member resolution
// errors surface lazily from symbol construction.
func New(doc Document) (*Schema, error) {
	s := &Schema{
		cubes:      make(map[string]*Cube),
		dimensions: make(map[string]*Dimension),
		measures:   make(map[string]*Measure),
	}
	for i := range doc.Cubes {
		c := doc.Cubes[i]
		if _, exists := s.cubes[c.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate cube %q", c.Name)
		}
		for j := range c.Joins {
			c.Joins[j].FromCube = c.Name
		}
		for j := range c.Dimensions {
			c.Dimensions[j].Cube = c.Name
			s.dimensions[c.Dimensions[j].FullName()] = &c.Dimensions[j]
		}
		for j := range c.Measures {
			c.Measures[j].Cube = c.Name
			s.measures[c.Measures[j].FullName()] = &c.Measures[j]
		}
		for j := range c.PreAggregations {
			c.PreAggregations[j].Cube = c.Name
		}
		s.cubes[c.Name] = &doc.Cubes[i]
		s.order = append(s.order, c.Name)
	}
	return s, nil
}

// Cube returns the cube definition by name.
func (s *Schema) Cube(name string) (*Cube, bool) {
	c, ok := s.cubes[name]
	return c, ok
}

// Dimension returns a dimension definition by its "cube.name" full name.
func (s *Schema) Dimension(fullName string) (*Dimension, bool) {
	d, ok := s.dimensions[fullName]
	return d, ok
}

// Measure returns a measure definition by its "cube.name" full name.
func (s *Schema) Measure(fullName string) (*Measure, bool) {
	m, ok := s.measures[fullName]
	return m, ok
}

// IsMeasure reports whether the given full name resolves to a measure.
func (s *Schema) IsMeasure(fullName string) bool {
	_, ok := s.measures[fullName]
	return ok
}

// IsDimension reports whether the given full name resolves to a dimension.
func (s *Schema) IsDimension(fullName string) bool {
	_, ok := s.dimensions[fullName]
	return ok
}

// PreAggregationsOf returns the pre-aggregations declared on a cube.
func (s *Schema) PreAggregationsOf(cube string) []PreAggregation {
	c, ok := s.cubes[cube]
	if !ok {
		return nil
	}
	return c.PreAggregations
}

// CubeNames returns all cube names in declaration order, for deterministic
// iteration (e.g. join-tree root selection, explain output).
func (s *Schema) CubeNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
