//go:build linux

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// NFSMount mounts the export at ip:port on mountPath with mount(8). It
// needs root or a matching fstab entry.
func NFSMount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	cmd := exec.Command("mount", "-t", "nfs",
		"-o", fmt.Sprintf("port=%d,mountport=%d,nfsvers=3,proto=tcp,mountproto=tcp,nolock,noac,soft,timeo=50,retrans=3", port, port),
		fmt.Sprintf("%s:/", ip),
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount -t nfs failed: %w: %s", err, string(output))
	}
	log.Infof("[Mount] mounted %s:%d on %s", ip, port, mountPath)
	return nil
}

// Unmount unmounts mountPath, falling back to a lazy unmount.
func Unmount(mountPath string) error {
	if !IsMounted(mountPath) {
		log.Debugf("[Mount] %s is not mounted, nothing to do", mountPath)
		return nil
	}

	var lastErr error
	for _, argv := range [][]string{{"umount", mountPath}, {"umount", "-l", mountPath}} {
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

// IsMounted checks /proc/self/mounts for mountPath.
func IsMounted(mountPath string) bool {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return false
	}
	realPath, err := filepath.EvalSymlinks(mountPath)
	if err != nil {
		realPath = mountPath
	}
	return containsProcMount(string(data), realPath)
}
