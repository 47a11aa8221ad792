package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

const firmwarePackage = "./cmd/firmware"

// FirmwareCmd compiles the device firmware with TinyGo and optionally
// flashes it.
func FirmwareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Build or flash the display firmware with tinygo",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := cmd.Flags().GetString("target")
			if err != nil {
				return fmt.Errorf("could not get target flag: %w", err)
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("could not get output flag: %w", err)
			}
			flash, err := cmd.Flags().GetBool("flash")
			if err != nil {
				return fmt.Errorf("could not get flash flag: %w", err)
			}
			if _, err := exec.LookPath("tinygo"); err != nil {
				slog.Error("tinygo not found in PATH, see https://tinygo.org/getting-started/install/")
				return fmt.Errorf("tinygo not installed: %w", err)
			}
			tinygoArgs := firmwareArgs(target, output, flash)
			slog.Info("running tinygo", "args", tinygoArgs)
			tinygo := exec.CommandContext(cmd.Context(), "tinygo", tinygoArgs...)
			tinygo.Stdout = os.Stdout
			tinygo.Stderr = os.Stderr
			if err := tinygo.Run(); err != nil {
				return fmt.Errorf("tinygo failed: %w", err)
			}
			if !flash {
				slog.Info("firmware built", "output", output)
			}
			return nil
		},
	}
	cmd.Flags().String("target", "pico", "tinygo target board")
	cmd.Flags().String("output", "dist/envdisplay.uf2", "firmware image path")
	cmd.Flags().Bool("flash", false, "flash the board instead of writing an image")
	return cmd
}

func firmwareArgs(target, output string, flash bool) []string {
	if flash {
		return []string{"flash", "-target", target, "-size", "short", firmwarePackage}
	}
	return []string{"build", "-target", target, "-size", "short", "-o", output, firmwarePackage}
}
