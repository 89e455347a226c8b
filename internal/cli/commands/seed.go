package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"drivefs/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <local-dir>",
	Short: "Upload a local directory into the drive",
	Long: `Copies a local directory tree into the drive through the driver.

.git is always skipped. .gitignore rules apply unless --no-gitignore is set.
--include re-adds ignored paths and --exclude drops paths; both take paths
relative to the local directory.

Examples:
  drivefs seed ./notebooks --dest /notebooks
  drivefs seed . --exclude data --include build/report.html`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var (
	seedDest        string
	seedNoGitignore bool
	seedIncludes    []string
	seedExcludes    []string
	seedVerbose     bool
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedDest, "dest", "/", "Drive directory to upload into")
	seedCmd.Flags().BoolVar(&seedNoGitignore, "no-gitignore", false, "Upload gitignored files too")
	seedCmd.Flags().StringSliceVar(&seedIncludes, "include", nil, "Paths to upload even when ignored")
	seedCmd.Flags().StringSliceVar(&seedExcludes, "exclude", nil, "Paths to skip")
	seedCmd.Flags().BoolVarP(&seedVerbose, "verbose", "v", false, "Print every uploaded file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	opts := seed.Options{
		Dest:      seedDest,
		Gitignore: !seedNoGitignore,
		Includes:  seedIncludes,
		Excludes:  seedExcludes,
	}
	if seedVerbose {
		opts.Progress = func(rel string, size int64) {
			fmt.Printf("  %s (%d bytes)\n", rel, size)
		}
	}

	res, err := seed.Run(cmd.Context(), d, args[0], opts)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	fmt.Printf("Uploaded %d files (%d bytes) in %d directories, skipped %d\n",
		res.Files, res.Bytes, res.Dirs, res.Skipped)
	return nil
}
