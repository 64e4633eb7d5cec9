package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/schema"
	"github.com/canonica-labs/cubecompile/internal/symbols"
)

func (c *CLI) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate a cube schema file",
	}
	cmd.AddCommand(c.newSchemaValidateCmd())
	return cmd
}

func (c *CLI) newSchemaValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a cube schema without compiling a query",
		Long: `Loads the schema from --schema, then resolves and renders every
dimension and measure's SQL against a representative dialect, surfacing
UnknownMember and CycleDetected errors that would otherwise only surface
lazily the first time a query touches the offending member.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSchemaValidate()
		},
	}
	return cmd
}

// schemaIssue is one member that failed to resolve/render during validation.
type schemaIssue struct {
	Member string `json:"member"`
	Error  string `json:"error"`
}

func (c *CLI) runSchemaValidate() error {
	s, err := schema.NewFileLoader(c.cfg.Schema.Path).Load()
	if err != nil {
		return c.reportCompileError(err)
	}

	d, err := dialect.New(dialect.Name(c.cfg.Dialect))
	if err != nil {
		return c.reportCompileError(err)
	}

	issues := validateSchema(s, d)

	if c.jsonOutput {
		return outputJSON(struct {
			Valid  bool           `json:"valid"`
			Cubes  []string       `json:"cubes"`
			Issues []schemaIssue  `json:"issues"`
		}{
			Valid:  len(issues) == 0,
			Cubes:  s.CubeNames(),
			Issues: issues,
		})
	}

	c.printf("schema: %d cube(s)\n", len(s.CubeNames()))
	if len(issues) == 0 {
		c.println("valid: no unresolvable members or cycles found")
		return nil
	}
	for _, issue := range issues {
		c.errorf("invalid: %s: %s\n", issue.Member, issue.Error)
	}
	return fmt.Errorf("schema validation found %d issue(s)", len(issues))
}

// validateSchema resolves and renders every dimension and measure in s,
// one fresh symbols.Compiler/symbols.Visitor per member so an error on one
// member (a cycle, an unknown reference) never short-circuits the rest of
// the report.
func validateSchema(s *schema.Schema, d *dialect.TemplateSet) []schemaIssue {
	var issues []schemaIssue
	for _, cubeName := range s.CubeNames() {
		cube, ok := s.Cube(cubeName)
		if !ok {
			continue
		}
		for i := range cube.Dimensions {
			full := cube.Dimensions[i].FullName()
			if err := renderMember(s, d, full); err != nil {
				issues = append(issues, schemaIssue{Member: full, Error: err.Error()})
			}
		}
		for i := range cube.Measures {
			full := cube.Measures[i].FullName()
			if err := renderMember(s, d, full); err != nil {
				issues = append(issues, schemaIssue{Member: full, Error: err.Error()})
			}
		}
		if _, err := schema.NewJoinGraph(s).BuildJoin([]string{cubeName}); err != nil {
			issues = append(issues, schemaIssue{Member: cubeName, Error: err.Error()})
		}
	}
	return issues
}

func renderMember(s *schema.Schema, d *dialect.TemplateSet, fullName string) error {
	compiler := symbols.NewCompiler(s)
	sym, err := compiler.AddAutoResolved(fullName)
	if err != nil {
		return err
	}
	visitor := symbols.NewVisitor(compiler, d)
	_, err = visitor.EvaluateSQL(filter.VisitorContext{}, sym)
	return err
}
