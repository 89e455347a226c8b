package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"drivefs/internal/common"
	"drivefs/internal/vfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a drive directory",
	Long: `Lists a directory of the configured drive without mounting it.

Examples:
  drivefs ls
  drivefs ls /notebooks -l`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>...",
	Short: "Print drive files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCat,
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show attributes of a drive path",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

var (
	lsLong bool
	lsAll  bool
)

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(statCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show mode, size and modification time")
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include . and ..")
}

// fileMode converts a drive mode to an os.FileMode for display.
func fileMode(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0o777)
	if vfs.IsDirMode(mode) {
		return os.ModeDir | perm
	}
	return perm
}

func runLs(cmd *cobra.Command, args []string) error {
	p := "/"
	if len(args) > 0 {
		p = common.AbsPath(args[0])
	}
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	if !lsLong {
		names, err := d.ReadDir(p)
		if err != nil {
			return fmt.Errorf("ls %s: %w", p, err)
		}
		for _, name := range names {
			if !lsAll && (name == "." || name == "..") {
				continue
			}
			fmt.Println(name)
		}
		return nil
	}

	entries, err := d.ReadDirAttrs(p)
	if err != nil {
		return fmt.Errorf("ls %s: %w", p, err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", fileMode(e.Attrs.Mode), e.Attrs.Size,
			e.Attrs.Mtime.Local().Format(time.DateTime), e.Name)
	}
	return w.Flush()
}

func runCat(cmd *cobra.Command, args []string) error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}
	for _, arg := range args {
		p := common.AbsPath(arg)
		data, err := d.ReadFile(p)
		if err != nil {
			return fmt.Errorf("cat %s: %w", p, err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	p := common.AbsPath(args[0])
	d, err := newDispatcher()
	if err != nil {
		return err
	}
	attrs, err := d.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}

	kind := "regular file"
	if vfs.IsDirMode(attrs.Mode) {
		kind = "directory"
	}
	fmt.Printf("  Path: %s\n", d.RemotePath(p))
	fmt.Printf("  Type: %s\n", kind)
	fmt.Printf("  Mode: %s (%o)\n", fileMode(attrs.Mode), attrs.Mode)
	fmt.Printf("  Size: %d\tBlocks: %d\tIO Block: %d\n", attrs.Size, attrs.Blocks, attrs.Blksize)
	fmt.Printf("Access: %s\n", attrs.Atime.Local().Format(time.RFC3339))
	fmt.Printf("Modify: %s\n", attrs.Mtime.Local().Format(time.RFC3339))
	fmt.Printf("Change: %s\n", attrs.Ctime.Local().Format(time.RFC3339))
	return nil
}
