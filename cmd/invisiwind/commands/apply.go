package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/rules"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Hide windows matching the configured rules",
	Long: `Enumerate windows once and hide every window selected by a rule.
Windows that are already hidden are skipped.`,
	Example: `  # Preview which windows would be hidden
  invisiwind apply --dry-run

  # Hide them
  invisiwind apply`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

var applyDryRun bool

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "print the windows that would be hidden")
}

func runApply(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	set, err := rules.Compile(cfg.Rules)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		fmt.Fprintln(stdout, "No rules configured")
		return nil
	}

	svc := newService(cfg)
	defer svc.Close()

	records, err := svc.EnumerateTopLevelWindows()
	if err != nil {
		return fmt.Errorf("failed to enumerate windows: %w", err)
	}
	names, err := newFinder().Names()
	if err != nil {
		return err
	}

	actions := set.Plan(records, names, cfg.HideFromTaskbar)
	if len(actions) == 0 {
		fmt.Fprintln(stdout, "Nothing to hide")
		return nil
	}

	if applyDryRun {
		for _, a := range actions {
			fmt.Fprintf(stdout, "would hide %s [rule %s]\n", windowLabel(a.Window), a.RuleID)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := rules.Apply(ctx, svc, actions)
	if err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Fprintf(os.Stderr, "❌ %s: %s\n", windowLabel(r.Window), r.Error)
			continue
		}
		fmt.Fprintf(stdout, "✅ Hidden: %s [rule %s]\n", windowLabel(r.Window), r.RuleID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d windows failed", failed, len(results))
	}
	return nil
}
