package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/window"
)

var hideCmd = &cobra.Command{
	Use:   "hide TARGET",
	Short: "Hide windows from screen capture",
	Long: `Hide every top-level window of a process from screen capture.

TARGET is a process id or an executable name; the ".exe" suffix is
optional. With --hwnd, TARGET is a single window handle instead.`,
	Example: `  # Hide all windows of a process by name
  invisiwind hide discord

  # Hide by process id, also removing the taskbar entry
  invisiwind hide 4242 --taskbar

  # Hide a single window
  invisiwind hide --hwnd 0x3012a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetVisibility(cmd, args[0], true)
	},
}

var unhideCmd = &cobra.Command{
	Use:     "unhide TARGET",
	Aliases: []string{"show"},
	Short:   "Make hidden windows capturable again",
	Long: `Restore screen capture of every top-level window of a process.

TARGET is a process id or an executable name, or a window handle with
--hwnd. With --taskbar the taskbar entry is restored as well.`,
	Example: `  # Show all windows of a process
  invisiwind unhide discord

  # Show a window and restore its taskbar entry
  invisiwind unhide --hwnd 0x3012a --taskbar`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetVisibility(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(unhideCmd)

	for _, c := range []*cobra.Command{hideCmd, unhideCmd} {
		c.Flags().Bool("hwnd", false, "treat TARGET as a window handle")
		c.Flags().Bool("taskbar", false, "also hide (or restore) the taskbar entry")
	}
}

func runSetVisibility(cmd *cobra.Command, target string, hide bool) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	taskbar, err := taskbarSetting(cmd.Flags(), hide, cfg.HideFromTaskbar)
	if err != nil {
		return err
	}
	byHandle, _ := cmd.Flags().GetBool("hwnd")

	svc := newService(cfg)
	defer svc.Close()

	records, err := svc.EnumerateTopLevelWindows()
	if err != nil {
		return fmt.Errorf("failed to enumerate windows: %w", err)
	}
	selected, err := selectWindows(records, newFinder(), target, byHandle)
	if err != nil {
		return fmt.Errorf("%s", describe(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	verb := "Hidden"
	if !hide {
		verb = "Shown"
	}

	var failed int
	for _, rec := range selected {
		if hide {
			err = svc.Hide(ctx, rec.PID, rec.Handle, taskbar)
		} else {
			err = svc.Show(ctx, rec.PID, rec.Handle, taskbar)
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "❌ %s (%s): %s\n", rec.Title, rec.Handle, describe(err))
			continue
		}
		fmt.Fprintf(stdout, "✅ %s: %s\n", verb, windowLabel(rec))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d windows failed", failed, len(selected))
	}
	return nil
}

func windowLabel(rec window.Record) string {
	return fmt.Sprintf("%s (hwnd %s, pid %d)", rec.Title, rec.Handle, rec.PID)
}
