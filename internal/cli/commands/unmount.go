package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"drivefs/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount <mount-point>",
	Aliases: []string{"umount"},
	Short:   "Unmount a drive",
	Long: `Stops the drivefs export for a mount point and removes the OS mount.

Open files are written back by the export before it exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}

	if !daemon.IsExportRunning(target) && !daemon.IsMounted(target) {
		return fmt.Errorf("%s is not mounted", target)
	}
	if err := daemon.StopExport(cmd.Context(), target); err != nil {
		return fmt.Errorf("unmount failed: %w", err)
	}

	fmt.Printf("Unmounted %s\n", target)
	return nil
}
