package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fernhill/plansync/internal/plan"
)

var (
	validatePlanPath string
	validatePartial  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the plan file",
	Long: `Validate checks the plan for structural problems: missing required
fields, duplicate ids, bad parent types, inconsistent parent and sub-item
declarations, and unresolvable references. In strict mode an unresolvable
reference is an error; with --partial it is reported as a warning.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validatePlanPath, "plan", "", "plan file (defaults to config)")
	validateCmd.Flags().BoolVar(&validatePartial, "partial", false, "treat unresolved references as warnings")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	newLogger(cfg)

	planPath := cfg.Sync.PlanPath
	if validatePlanPath != "" {
		planPath = validatePlanPath
	}
	mode := plan.Strict
	if validatePartial || !cfg.Strict() {
		mode = plan.Partial
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	warnings, err := plan.Validate(p, mode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, warning := range warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	fmt.Fprintf(out, "%s: %d items, ok\n", planPath, len(p.Items))
	return nil
}
