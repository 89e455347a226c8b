//go:build !darwin && !linux

package daemon

import (
	"fmt"
	"runtime"
)

func NFSMount(ip string, port int, mountPath string) error {
	return fmt.Errorf("NFS mount is not supported on %s; use --no-os-mount and mount %s:%d yourself", runtime.GOOS, ip, port)
}

func Unmount(mountPath string) error {
	return fmt.Errorf("unmount is not supported on %s", runtime.GOOS)
}

func IsMounted(mountPath string) bool {
	return false
}
