package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fernhill/plansync/internal/plan"
)

var hashPlanPath string

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the plan identity hash",
	Long: `Hash prints the canonical content hash of the plan. The hash is
stable under item reordering and formatting changes and shifts only when
plan content changes, so it serves as the plan version identity embedded
in every tracker item this tool creates.`,
	RunE: runHash,
}

func init() {
	hashCmd.Flags().StringVar(&hashPlanPath, "plan", "", "plan file (defaults to config)")
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	planPath := cfg.Sync.PlanPath
	if hashPlanPath != "" {
		planPath = hashPlanPath
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	planID, err := plan.Hash(p)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), planID)
	return nil
}
