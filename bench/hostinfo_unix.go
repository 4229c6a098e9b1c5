//go:build unix

package bench

import (
	"strings"

	"golang.org/x/sys/unix"
)

// HostInfo describes the host kernel, like uname -srm.
func HostInfo() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "unknown"
	}
	return strings.Join([]string{
		unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Machine[:]),
	}, " ")
}
