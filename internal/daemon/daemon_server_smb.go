//go:build smb

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"

	"drivefs/internal/cache"
	"drivefs/internal/host"
)

func init() {
	netFSTypeName = "smb"
}

// newNetFSServer creates the export server for the drive behind d. The
// attribute cache only fronts the NFS adapter.
func newNetFSServer(d *host.Dispatcher, attrs *cache.AttrCache) NetFSServer {
	if attrs != nil {
		log.Debugf("[Daemon] attribute cache is unused over SMB")
	}
	return NewSMBServer(NewSMBAdapter(d), smbShareName)
}

// mountNetFS mounts the export listening on ip:port at mountPath.
func mountNetFS(ip string, port int, mountPath string) error {
	return SMBMount(ip, port, smbShareName, mountPath)
}

// SMBMount mounts the guest share at ip:port on mountPath with
// mount_smbfs on macOS or mount.cifs on Linux.
func SMBMount(ip string, port int, shareName, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		url := fmt.Sprintf("//Guest@%s:%d/%s", ip, port, shareName)
		cmd = exec.Command("mount_smbfs", "-N", "-o", "nobrowse,nostreams", url, mountPath)
	case "linux":
		cmd = exec.Command("mount", "-t", "cifs",
			"-o", fmt.Sprintf("port=%d,guest,vers=3.0", port),
			fmt.Sprintf("//%s/%s", ip, shareName),
			mountPath,
		)
	default:
		return fmt.Errorf("SMB mount is not supported on %s; use --no-os-mount and mount smb://%s:%d/%s yourself", runtime.GOOS, ip, port, shareName)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Args[0], err, string(output))
	}
	log.Infof("[Mount] mounted smb://%s:%d/%s on %s", ip, port, shareName, mountPath)
	return nil
}
