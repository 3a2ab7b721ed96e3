package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/process"
)

var processesCmd = &cobra.Command{
	Use:   "processes [FILTER]",
	Short: "List running processes",
	Long: `List running processes with their ids, sorted by name. An optional
FILTER keeps processes whose name contains it.`,
	Example: `  # List all processes
  invisiwind processes

  # Find a process id by name
  invisiwind processes discord`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcesses,
}

var processesFormat string

func init() {
	rootCmd.AddCommand(processesCmd)

	processesCmd.Flags().StringVarP(&processesFormat, "format", "f", "table", "output format (table or json)")
}

func runProcesses(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	entries, err := newFinder().List()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		entries = filterProcesses(entries, args[0])
	}

	switch processesFormat {
	case "json":
		return printJSON(stdout, entries)
	case "table":
		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "PID\tPARENT\tNAME")
		fmt.Fprintln(w, "---\t------\t----")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%d\t%s\n", e.PID, e.ParentPID, e.Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", processesFormat)
	}
}

func filterProcesses(entries []process.Entry, filter string) []process.Entry {
	filter = strings.ToLower(filter)
	out := make([]process.Entry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), filter) {
			out = append(out, e)
		}
	}
	return out
}
