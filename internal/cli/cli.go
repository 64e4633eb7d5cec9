// Package cli provides the command-line interface for cubecompile.
// The CLI is a control interface for compiling cube queries, explaining
// plans, validating schemas, and diagnosing the local install.
//
// The root command carries persistent global flags, PersistentPreRunE-driven
// config loading, and quiet/json/debug output helpers; the "compile",
// "explain", "schema validate", and "doctor" subcommands run entirely
// in-process against a schema file.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/cubecompile/internal/config"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitCompile    = 2
	ExitInternal   = 3
)

// Version information (set at build time via -ldflags).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config

	// Global flags
	configPath string
	schemaPath string
	dialect    string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// New creates a new CLI instance.
func New() *CLI {
	c := &CLI{}
	c.rootCmd = c.newRootCmd()
	return c
}

// Execute runs the CLI and returns a process exit code.
func (c *CLI) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		return ExitInternal
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cubecompile",
		Short: "Compile cube queries into dialect-specific physical SQL",
		Long: `cubecompile is the semantic-to-physical query compilation pipeline
for a cube-based analytical SQL frontend.

It turns a cube query (measures, dimensions, time dimensions, filters)
or raw SQL text into a dialect-specific SELECT and parameter vector by:
  - resolving members against a cube schema,
  - matching a compatible pre-aggregation when one covers the query,
  - expanding multi-stage measures into a CTE stage DAG,
  - emitting dialect-templated SQL.

This CLI drives that pipeline end to end against a local schema file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.cubecompile/config.yaml)")
	cmd.PersistentFlags().StringVar(&c.schemaPath, "schema", "", "cube schema YAML file (overrides config)")
	cmd.PersistentFlags().StringVar(&c.dialect, "dialect", "", "target SQL dialect (overrides config)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newCompileCmd())
	cmd.AddCommand(c.newExplainCmd())
	cmd.AddCommand(c.newSchemaCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if c.schemaPath != "" {
		c.cfg.Schema.Path = c.schemaPath
	}
	if c.dialect != "" {
		c.cfg.Dialect = c.dialect
	}

	return nil
}

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Printf(format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Println(args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Printf("[DEBUG] "+format, args...)
	}
}
