//go:build darwin

package server

import (
	"golang.org/x/sys/unix"
)

// tuneListener applies the Darwin subset of listener-socket options.
func tuneListener(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
