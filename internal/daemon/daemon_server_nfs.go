//go:build !smb

package daemon

import (
	"drivefs/internal/cache"
	"drivefs/internal/host"
)

func init() {
	netFSTypeName = "nfs"
}

// newNetFSServer creates the export server for the drive behind d.
func newNetFSServer(d *host.Dispatcher, attrs *cache.AttrCache) NetFSServer {
	return NewNFSServer(d, attrs)
}

// mountNetFS mounts the export listening on ip:port at mountPath.
func mountNetFS(ip string, port int, mountPath string) error {
	return NFSMount(ip, port, mountPath)
}
