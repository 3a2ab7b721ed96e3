package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/config"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage hide rules",
	Long: `Add, remove and list rules that select windows to hide automatically.

A rule matches a window when its process name (if set) equals the owning
executable and its title pattern (if set) matches the window title.`,
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a hide rule",
	Example: `  # Hide every Discord window
  invisiwind rule add --process discord

  # Hide password manager windows, including their taskbar entry
  invisiwind rule add --title "(?i)password" --taskbar`,
	Args: cobra.NoArgs,
	RunE: runRuleAdd,
}

var ruleRemoveCmd = &cobra.Command{
	Use:     "remove ID",
	Aliases: []string{"rm"},
	Short:   "Remove a hide rule",
	Args:    cobra.ExactArgs(1),
	RunE:    runRuleRemove,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hide rules",
	RunE:  runRuleList,
}

var (
	ruleID      string
	ruleProcess string
	ruleTitle   string
)

func init() {
	rootCmd.AddCommand(ruleCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleListCmd)

	ruleAddCmd.Flags().StringVar(&ruleID, "id", "", "rule id (generated from the process name when empty)")
	ruleAddCmd.Flags().StringVarP(&ruleProcess, "process", "p", "", "executable name to match")
	ruleAddCmd.Flags().StringVarP(&ruleTitle, "title", "t", "", "regular expression matched against window titles")
	ruleAddCmd.Flags().Bool("taskbar", false, "also hide the taskbar entry (overrides hide_from_taskbar)")
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	rule := config.Rule{ID: ruleID, Process: ruleProcess, Title: ruleTitle}
	if cmd.Flags().Changed("taskbar") {
		v, _ := cmd.Flags().GetBool("taskbar")
		rule.HideFromTaskbar = &v
	}

	added, err := configMgr.AddRule(rule)
	if err != nil {
		return fmt.Errorf("failed to add rule: %w", err)
	}

	fmt.Fprintf(stdout, "✅ Added rule '%s'\n", added.ID)
	return nil
}

func runRuleRemove(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	if err := configMgr.RemoveRule(args[0]); err != nil {
		return fmt.Errorf("failed to remove rule: %w", err)
	}

	fmt.Fprintf(stdout, "✅ Removed rule '%s'\n", args[0])
	return nil
}

func runRuleList(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	rules := configMgr.Rules()
	if len(rules) == 0 {
		fmt.Fprintln(stdout, "No rules configured")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tPROCESS\tTITLE\tTASKBAR")
	fmt.Fprintln(w, "--\t-------\t-----\t-------")
	for _, r := range rules {
		taskbar := "default"
		if r.HideFromTaskbar != nil {
			taskbar = yesNo(*r.HideFromTaskbar)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, dash(r.Process), dash(r.Title), taskbar)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
