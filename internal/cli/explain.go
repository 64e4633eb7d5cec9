package cli

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newExplainCmd() *cobra.Command {
	var queryPath string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the logical plan tree compile() would build for a query",
		Long: `Compiles the query described by --query the same way "compile" does,
but prints the pretty-printed logical plan tree (plan_text_for_explain)
instead of the emitted SQL, so a reader can see which plan shape was
chosen: direct pushdown, pre-aggregation match, or multi-stage CTE DAG.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExplain(queryPath)
		},
	}
	cmd.Flags().StringVar(&queryPath, "query", "", "JSON file describing the cube query request (required)")
	cmd.MarkFlagRequired("query")
	return cmd
}

func (c *CLI) runExplain(queryPath string) error {
	outcome, _, err := c.compile(queryPath)
	if err != nil {
		return c.reportCompileError(err)
	}

	if c.jsonOutput {
		return outputJSON(struct {
			PlanText            string   `json:"planText"`
			UsedPreAggregations []string `json:"usedPreAggregations"`
		}{
			PlanText:            outcome.PlanTextForExplain,
			UsedPreAggregations: outcome.UsedPreAggregations,
		})
	}

	c.println(outcome.PlanTextForExplain)
	return nil
}
