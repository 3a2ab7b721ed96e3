package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/window"
)

var iconCmd = &cobra.Command{
	Use:   "icon HWND",
	Short: "Save a window's icon as PNG",
	Long:  `Extract the small icon of a window and write it as a PNG file.`,
	Example: `  # Save the icon at its native size
  invisiwind icon 0x3012a --out discord.png

  # Save the icon scaled to 64x64
  invisiwind icon 0x3012a --out discord.png --size 64`,
	Args: cobra.ExactArgs(1),
	RunE: runIcon,
}

var (
	iconOut  string
	iconSize int
)

func init() {
	rootCmd.AddCommand(iconCmd)

	iconCmd.Flags().StringVarP(&iconOut, "out", "o", "icon.png", "output file")
	iconCmd.Flags().IntVar(&iconSize, "size", 0, "scale to SIZE x SIZE pixels (0 keeps the native size)")
}

func runIcon(cmd *cobra.Command, args []string) error {
	h, err := window.ParseHandle(args[0])
	if err != nil {
		return err
	}
	if iconSize < 0 || iconSize > 256 {
		return fmt.Errorf("size must be between 0 and 256")
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	svc := newService(configMgr.Get())
	defer svc.Close()

	img, err := svc.ExtractIcon(h)
	if err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("window %s has no icon", h)
	}

	f, err := os.Create(iconOut)
	if err != nil {
		return err
	}
	if err := img.EncodePNG(f, iconSize); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode icon: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "✅ Saved %dx%d icon to %s\n", img.Width, img.Height, iconOut)
	return nil
}
