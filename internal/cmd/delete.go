package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fernhill/plansync/internal/engine"
	"github.com/fernhill/plansync/internal/plan"
)

var (
	deletePlanPath string
	deletePlanID   string
	deleteYes      bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every tracker item belonging to a plan version",
	Long: `Delete removes all tracker items created for a plan version, children
before parents so the tracker never rejects a delete for having dependents.
The plan version defaults to the hash of the local plan file; pass --plan-id
to target a different version, for example after the plan changed.`,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().StringVar(&deletePlanPath, "plan", "", "plan file (defaults to config)")
	deleteCmd.Flags().StringVar(&deletePlanID, "plan-id", "", "plan version to delete (defaults to the local plan's hash)")
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	planID := deletePlanID
	if planID == "" {
		planPath := cfg.Sync.PlanPath
		if deletePlanPath != "" {
			planPath = deletePlanPath
		}
		p, err := plan.Load(planPath)
		if err != nil {
			return err
		}
		planID, err = plan.Hash(p)
		if err != nil {
			return err
		}
	}

	if !deleteYes {
		fmt.Fprintf(cmd.OutOrStdout(),
			"This deletes every tracker item for plan %s. Continue? [y/N] ", planID)
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	prov, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Provider:      prov,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		Label:         cfg.Sync.Label,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	deleted, err := eng.Purge(cmd.Context(), planID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d items for plan %s\n", deleted, planID)
	return nil
}
