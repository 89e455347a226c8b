package daemon

import "net"

// NetFSServer is a network file system server exporting one drive.
type NetFSServer interface {
	// Listen binds addr (e.g. "127.0.0.1:0") and returns the bound address
	Listen(addr string) (net.Addr, error)

	// Serve blocks until the server is shut down
	Serve() error

	// Shutdown stops the server
	Shutdown()
}

// NetFSType returns the protocol exports are served with ("nfs" or "smb").
// The smb build tag selects SMB.
func NetFSType() string {
	return netFSTypeName
}

// netFSTypeName is set by build-tagged files
var netFSTypeName string
