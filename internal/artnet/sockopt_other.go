//go:build !unix

package artnet

import "syscall"

// SO_REUSEADDR is not set on this platform.
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
