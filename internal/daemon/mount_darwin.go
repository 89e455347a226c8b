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

//go:build darwin

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// NFSMount mounts the export at ip:port on mountPath with mount_nfs.
//
// soft,timeo=50,retrans=3 lets the kernel give up on a dead server instead
// of leaving a mount that only a reboot clears. noac keeps attributes fresh
// since the drive can change behind our back. nobrowse keeps Finder and
// Spotlight off the mount.
func NFSMount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	cmd := exec.Command("mount_nfs",
		"-o", fmt.Sprintf("port=%d,mountport=%d,tcp,nolocks,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3,nobrowse", port, port),
		fmt.Sprintf("%s:/", ip),
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount_nfs failed: %w: %s", err, string(output))
	}
	log.Infof("[Mount] mounted %s:%d on %s", ip, port, mountPath)
	return nil
}

// Unmount unmounts mountPath: diskutil first, then umount, then umount -f.
func Unmount(mountPath string) error {
	if !IsMounted(mountPath) {
		log.Debugf("[Mount] %s is not mounted, nothing to do", mountPath)
		return nil
	}

	attempts := [][]string{
		{"diskutil", "unmount", mountPath},
		{"umount", mountPath},
		{"umount", "-f", mountPath},
	}
	var lastErr error
	for _, argv := range attempts {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			log.Infof("[Mount] %v succeeded", argv)
			return nil
		}
		log.Warnf("[Mount] %v failed: %v: %s", argv, err, string(output))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPath, lastErr)
}

// IsMounted checks the mount table for mountPath.
func IsMounted(mountPath string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	// /tmp is /private/tmp in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPath)
	if err != nil {
		realPath = mountPath
	}
	return containsMount(string(output), realPath)
}
