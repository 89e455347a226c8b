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

package util

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DetachConfig configures StartDetached.
type DetachConfig struct {
	Notify     bool       // Print status messages to stderr
	PollConfig PollConfig // Polling config for waiting
}

// DefaultDetachConfig returns sensible defaults.
func DefaultDetachConfig() DetachConfig {
	return DetachConfig{
		Notify: true,
		PollConfig: PollConfig{
			Timeout:  15 * time.Second,
			Interval: 100 * time.Millisecond,
		},
	}
}

// StartDetached re-executes the current binary with args in the background
// and waits until isReady reports true. It does nothing when isReady is
// already true.
func StartDetached(ctx context.Context, cfg DetachConfig, isReady func() bool, args []string) error {
	if isReady() {
		return nil
	}

	notify := func(format string, a ...any) {
		if cfg.Notify {
			fmt.Fprintf(os.Stderr, format, a...)
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	notify("Starting %v...", args)
	if _, err := StartBackgroundProcess(exe, args, nil); err != nil {
		notify(" failed\n")
		return err
	}

	if err := PollUntil(ctx, cfg.PollConfig, isReady); err != nil {
		notify(" timeout\n")
		return fmt.Errorf("background process did not become ready in time")
	}
	notify(" done\n")
	return nil
}
