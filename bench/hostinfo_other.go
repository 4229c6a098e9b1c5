//go:build !unix

package bench

import "runtime"

func HostInfo() string {
	return runtime.GOOS + " " + runtime.GOARCH
}
