// Copyright 2024 DriveFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"drivefs/internal/daemon"
	"drivefs/internal/util"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount a drive over NFS",
	Long: `Exports the configured drive over NFS and mounts it at the given mount point.

The command waits for the contents service, takes a per-mount-point lock and
blocks until interrupted, then unmounts and writes back open files. SIGHUP
drops the cached tree so changes made on the service show up.

With --no-os-mount the NFS server runs without an OS mount; the mount point
only names the export. With --detach the export runs in the background.

Examples:
  drivefs mount ./drive
  drivefs mount ./drive --base-url http://127.0.0.1:8888/ --detach
  drivefs mount ./drive --no-os-mount --listen 127.0.0.1:12049`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

var (
	mountListen    string
	mountNoOSMount bool
	mountDetach    bool
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().StringVar(&mountListen, "listen", "", "NFS listen address (default from settings)")
	mountCmd.Flags().BoolVar(&mountNoOSMount, "no-os-mount", false, "Serve NFS without mounting it")
	mountCmd.Flags().BoolVarP(&mountDetach, "detach", "D", false, "Run the export in the background")
}

func runMount(cmd *cobra.Command, args []string) error {
	absMountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if mountListen != "" {
		settings.Listen = mountListen
	}

	if daemon.IsExportRunning(absMountPoint) {
		return fmt.Errorf("%s is already mounted by drivefs", absMountPoint)
	}

	if !mountNoOSMount {
		if err := checkMountTarget(absMountPoint); err != nil {
			return err
		}
	}

	if mountDetach {
		return detachMount(cmd.Context(), absMountPoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(daemon.Options{
		Settings:  settings,
		MountPath: absMountPoint,
		NoOSMount: mountNoOSMount,
		Ready: func(addr net.Addr) {
			if mountNoOSMount {
				fmt.Printf("Serving %s%s on nfs://%s\n", settings.BaseURL, settings.Mountpoint, addr)
			} else {
				fmt.Printf("Mounted %s%s at %s\n", settings.BaseURL, settings.Mountpoint, absMountPoint)
			}
		},
	})
	if err != nil {
		return err
	}
	go refreshOnHangup(ctx, d)
	return d.Run(ctx)
}

// refreshOnHangup drops the export's caches on every SIGHUP until ctx is
// done.
func refreshOnHangup(ctx context.Context, d *daemon.Daemon) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d.Refresh()
		}
	}
}

// checkMountTarget creates the mount point when missing and refuses
// non-empty directories.
func checkMountTarget(absMountPoint string) error {
	info, err := os.Stat(absMountPoint)
	if os.IsNotExist(err) {
		return os.MkdirAll(absMountPoint, 0755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("target exists and is not a directory: %s", absMountPoint)
	}
	entries, err := os.ReadDir(absMountPoint)
	if err != nil {
		return fmt.Errorf("failed to read target directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("target directory is not empty: %s", absMountPoint)
	}
	return nil
}

// detachMount re-runs the mount command in the background and waits for its
// run lock. Connection settings reach the child through the environment.
func detachMount(ctx context.Context, absMountPoint string) error {
	os.Setenv(daemon.EnvBaseURL, settings.BaseURL)
	os.Setenv(daemon.EnvToken, settings.Token)
	os.Setenv(daemon.EnvLogLevel, settings.LogLevel)

	childArgs := []string{"mount", absMountPoint, "--listen", settings.Listen}
	if mountNoOSMount {
		childArgs = append(childArgs, "--no-os-mount")
	}
	if flagLogFile != "" {
		childArgs = append(childArgs, "--log-file", flagLogFile)
	}

	err := util.StartDetached(ctx, util.DefaultDetachConfig(), func() bool {
		return daemon.IsExportRunning(absMountPoint) && (mountNoOSMount || daemon.IsMounted(absMountPoint))
	}, childArgs)
	if err != nil {
		return fmt.Errorf("failed to start export: %w", err)
	}
	fmt.Printf("Mounted %s%s at %s\n", settings.BaseURL, settings.Mountpoint, absMountPoint)
	return nil
}
