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
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"drivefs/internal/contents"
	"drivefs/internal/daemon"
	"drivefs/internal/host"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var (
	flagLogLevel string
	flagLogFile  string
	flagBaseURL  string
	flagToken    string

	// settings is loaded before every command runs.
	settings *daemon.Settings
	logFile  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "drivefs",
	Short: "Mount a remote contents API as a local file system",
	Long: `DriveFS exposes a path-addressed HTTP contents API as a POSIX tree.

A drive can be exported over NFS and mounted locally, inspected with
one-shot commands, or seeded from a local directory. "drivefs serve" runs
a self-contained contents service backed by SQLite.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		if err := daemon.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		s, err := daemon.LoadSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		flags := cmd.Flags()
		if flags.Changed("base-url") {
			s.BaseURL = flagBaseURL
		}
		if flags.Changed("token") {
			s.Token = flagToken
		}
		if flags.Changed("log-level") {
			s.LogLevel = flagLogLevel
		}
		settings = s

		file := flagLogFile
		if file == "" {
			file = daemon.LogPath()
		}
		closer, err := daemon.SetupLogging(daemon.NormalizeLogLevel(s.LogLevel), file)
		if err != nil {
			return err
		}
		logFile = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("drivefs version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, off")
	pf.StringVar(&flagLogFile, "log-file", "", "Log file (\"-\" for stderr, default ~/.drivefs/drivefs.log)")
	pf.StringVar(&flagBaseURL, "base-url", "", "Base URL of the contents service")
	pf.StringVar(&flagToken, "token", "", "Bearer token for the contents service")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newDispatcher connects a driver to the configured contents service.
func newDispatcher() (*host.Dispatcher, error) {
	client, err := contents.New(contents.Config{
		BaseURL: settings.BaseURL,
		Token:   settings.Token,
	})
	if err != nil {
		return nil, err
	}
	d, err := host.New(host.Config{Remote: client, Mountpoint: settings.Mountpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to mount %s%s: %w", settings.BaseURL, settings.Mountpoint, err)
	}
	return d, nil
}
