package daemon

import (
	"bufio"
	"strings"
	"time"
)

// unmountTimeout bounds each unmount attempt. With the server gone the
// kernel NFS client can block until its soft timeout.
const unmountTimeout = 3 * time.Second

// containsMount looks for "<dev> on <mountPoint> (...)" in mount(8) output.
func containsMount(mountOutput, mountPoint string) bool {
	sc := bufio.NewScanner(strings.NewReader(mountOutput))
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, " on "+mountPoint+" ") || strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}

// containsProcMount looks for mountPoint in the second field of a
// /proc/mounts table. Spaces in paths are octal-escaped there.
func containsProcMount(table, mountPoint string) bool {
	escaped := strings.NewReplacer(" ", `\040`, "\t", `\011`, "\n", `\012`).Replace(mountPoint)
	sc := bufio.NewScanner(strings.NewReader(table))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == escaped {
			return true
		}
	}
	return false
}
