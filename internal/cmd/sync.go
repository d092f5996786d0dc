package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fernhill/plansync/internal/engine"
	"github.com/fernhill/plansync/internal/plan"
	"github.com/fernhill/plansync/internal/provider"
)

var (
	syncPlanPath string
	syncMapPath  string
	syncDryRun   bool
	syncPartial  bool
	syncMaxConc  int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the plan to the tracker",
	Long: `Sync reconciles the plan file against the configured tracker:

1. Discover items already created for this plan version
2. Create missing items, epics before stories before tasks
3. Update items whose rendered content drifted
4. Reconcile hierarchy and blocked-by links, including rollups

The resulting sync map is written next to the plan. With --dry-run no
remote call is made and deterministic placeholder identities are reported.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncPlanPath, "plan", "", "plan file (defaults to config)")
	syncCmd.Flags().StringVar(&syncMapPath, "map", "", "sync map output path (defaults to config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "simulate without remote calls")
	syncCmd.Flags().BoolVar(&syncPartial, "partial", false, "allow unresolved references with a warning")
	syncCmd.Flags().IntVar(&syncMaxConc, "max-concurrent", 0, "bound on concurrent remote calls (defaults to config)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	planPath := cfg.Sync.PlanPath
	if syncPlanPath != "" {
		planPath = syncPlanPath
	}
	mapPath := cfg.Sync.MapPath
	if syncMapPath != "" {
		mapPath = syncMapPath
	}
	mode := plan.Strict
	if syncPartial || !cfg.Strict() {
		mode = plan.Partial
	}
	maxConc := cfg.Sync.MaxConcurrent
	if syncMaxConc > 0 {
		maxConc = syncMaxConc
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	warnings, err := plan.Validate(p, mode)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	planID, err := plan.Hash(p)
	if err != nil {
		return err
	}

	var prov provider.Provider
	if !syncDryRun {
		prov, err = newProvider(cfg, logger)
		if err != nil {
			return err
		}
	}

	eng, err := engine.New(engine.Options{
		Provider:      prov,
		MaxConcurrent: maxConc,
		Mode:          mode,
		DryRun:        syncDryRun,
		Label:         cfg.Sync.Label,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	result, err := eng.Sync(cmd.Context(), p, planID)
	if err != nil {
		return err
	}

	outPath := mapPath
	if result.DryRun {
		outPath = engine.DryRunPath(mapPath)
	}
	if err := engine.SaveMap(result.Map, outPath); err != nil {
		return err
	}

	printSummary(cmd, result, planID, outPath)
	return nil
}

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true)
	summaryLabelStyle = lipgloss.NewStyle().Faint(true)
	summaryWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func printSummary(cmd *cobra.Command, result *engine.Result, planID, mapPath string) {
	out := cmd.OutOrStdout()

	title := "Sync complete"
	if result.DryRun {
		title = "Dry run complete"
	}
	fmt.Fprintln(out, summaryTitleStyle.Render(title))
	fmt.Fprintf(out, "%s %s\n", summaryLabelStyle.Render("plan id:"), planID)
	fmt.Fprintf(out, "%s %d epics, %d stories, %d tasks\n",
		summaryLabelStyle.Render("created:"),
		result.Created[plan.TypeEpic],
		result.Created[plan.TypeStory],
		result.Created[plan.TypeTask])
	fmt.Fprintf(out, "%s %d\n", summaryLabelStyle.Render("updated:"), result.Updated)
	fmt.Fprintf(out, "%s %s\n", summaryLabelStyle.Render("sync map:"), mapPath)
	if result.DryRun {
		fmt.Fprintln(out, summaryWarnStyle.Render("no remote calls were made"))
	}
}
