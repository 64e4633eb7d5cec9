package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/cubecompile/internal/compiler"
	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/observability"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func (c *CLI) newCompileCmd() *cobra.Command {
	var queryPath string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a cube query into dialect-specific SQL",
		Long: `Loads the cube schema, compiles the query described by --query
against it, and prints the resulting SQL and parameter vector.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCompile(queryPath)
		},
	}
	cmd.Flags().StringVar(&queryPath, "query", "", "JSON file describing the cube query request (required)")
	cmd.MarkFlagRequired("query")
	return cmd
}

func (c *CLI) runCompile(queryPath string) error {
	outcome, _, err := c.compile(queryPath)
	if err != nil {
		return c.reportCompileError(err)
	}

	if c.jsonOutput {
		return outputJSON(struct {
			SQL                 string        `json:"sql"`
			Params              []interface{} `json:"params"`
			UsedPreAggregations []string      `json:"usedPreAggregations"`
		}{
			SQL:                 outcome.SQL,
			Params:              valuesToJSON(outcome.Params),
			UsedPreAggregations: outcome.UsedPreAggregations,
		})
	}

	c.println(outcome.SQL)
	if len(outcome.Params) > 0 {
		c.println()
		c.println("Params:")
		for i, p := range outcome.Params {
			c.printf("  $%d = %s\n", i+1, p.SQLLiteral())
		}
	}
	if len(outcome.UsedPreAggregations) > 0 {
		c.println()
		c.printf("Used pre-aggregations: %v\n", outcome.UsedPreAggregations)
	}
	return nil
}

// compile loads the configured schema/dialect, compiles the query at
// queryPath, and logs the attempt through a CompileLogger; returning the
// outcome, the query id that was logged, and any error.
func (c *CLI) compile(queryPath string) (*compiler.CompileOutcome, string, error) {
	queryID := uuid.NewString()
	logger := c.newLogger()
	ctx := context.Background()

	s, err := schema.NewFileLoader(c.cfg.Schema.Path).Load()
	if err != nil {
		return nil, queryID, fmt.Errorf("cli: loading schema: %w", err)
	}

	d, err := dialect.New(dialect.Name(c.cfg.Dialect))
	if err != nil {
		return nil, queryID, fmt.Errorf("cli: resolving dialect: %w", err)
	}

	req, err := loadQueryRequest(queryPath)
	if err != nil {
		return nil, queryID, err
	}

	outcome, compileErr := compiler.Compile(ctx, req, s, d)

	entry := observability.CompileLogEntry{
		QueryID: queryID,
		Dialect: c.cfg.Dialect,
	}
	if compileErr != nil {
		entry.Outcome = "error"
		entry.Error = compileErr.Error()
	} else {
		entry.Outcome = "success"
		entry.PreAggregationUsed = firstOrEmpty(outcome.UsedPreAggregations)
	}
	_ = logger.LogCompile(ctx, entry)

	return outcome, queryID, compileErr
}

func (c *CLI) newLogger() observability.CompileLogger {
	if c.debug {
		return observability.NewJSONLogger(debugWriter{c})
	}
	return observability.NewNoopLogger()
}

type debugWriter struct{ c *CLI }

func (w debugWriter) Write(p []byte) (int, error) {
	w.c.debugf("%s", string(p))
	return len(p), nil
}

func (c *CLI) reportCompileError(err error) error {
	c.errorf("compile error: %v\n", err)
	return err
}

func firstOrEmpty(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}
