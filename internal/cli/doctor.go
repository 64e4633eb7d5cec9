package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/cubecompile/internal/dialect"
	"github.com/canonica-labs/cubecompile/internal/schema"
)

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run local diagnostics",
		Long: `Run diagnostics on the local install.

Checks:
  - configuration is loadable
  - the configured schema file is readable and parses
  - the configured dialect's template set is complete`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor()
		},
	}
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) runDoctor() error {
	c.println("cubecompile diagnostics")
	c.println("=======================")
	c.println("")

	checks := []DiagnosticCheck{
		c.checkConfig(),
		c.checkSchema(),
		c.checkDialect(),
	}
	allPassed := true
	for _, chk := range checks {
		if !chk.Passed {
			allPassed = false
		}
		c.printCheck(chk)
	}
	c.println("")

	if c.jsonOutput {
		return outputJSON(map[string]interface{}{
			"checks":    checks,
			"allPassed": allPassed,
		})
	}

	if allPassed {
		c.println("all checks passed")
	} else {
		c.println("some checks failed, see above")
		return fmt.Errorf("doctor: one or more checks failed")
	}
	return nil
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "FAIL"
	if check.Passed {
		status = "OK"
	}
	c.printf("[%s] %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("       %s\n", check.Details)
	}
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}
	if c.cfg == nil {
		check.Message = "no configuration loaded"
		check.Details = "create ~/.cubecompile/config.yaml or use --config"
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("dialect=%s schema=%s", c.cfg.Dialect, c.cfg.Schema.Path)
	return check
}

func (c *CLI) checkSchema() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Schema"}
	if c.cfg == nil || c.cfg.Schema.Path == "" {
		check.Message = "no schema path configured"
		check.Details = "set schema.path in config or use --schema"
		return check
	}
	s, err := schema.NewFileLoader(c.cfg.Schema.Path).Load()
	if err != nil {
		check.Message = "schema failed to load"
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d cube(s) loaded from %s", len(s.CubeNames()), c.cfg.Schema.Path)
	return check
}

func (c *CLI) checkDialect() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Dialect"}
	name := "postgres"
	if c.cfg != nil && c.cfg.Dialect != "" {
		name = c.cfg.Dialect
	}
	d, err := dialect.New(dialect.Name(name))
	if err != nil {
		check.Message = fmt.Sprintf("unknown dialect %q", name)
		check.Details = err.Error()
		return check
	}
	var missing []string
	for _, path := range requiredTemplatePaths {
		if !d.CanRewriteTemplate(path) {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		check.Message = fmt.Sprintf("dialect %q is missing templates", name)
		check.Details = fmt.Sprintf("%v", missing)
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("dialect %q template set complete", name)
	return check
}

// requiredTemplatePaths are the template keys every dialect must define for
// the physical emitter to render a query end to end.
var requiredTemplatePaths = []string{
	"expressions/equals",
	"expressions/not_equals",
	"expressions/in",
	"expressions/not_in",
	"expressions/not",
	"expressions/concat",
	"expressions/negative",
	"expressions/case",
	"expressions/case_when",
	"expressions/case_else",
	"expressions/date_trunc",
	"expressions/time_shift",
}
