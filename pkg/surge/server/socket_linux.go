//go:build linux

package server

import (
	"golang.org/x/sys/unix"
)

// tuneListener applies Linux listener-socket options. All best-effort.
func tuneListener(fd int) {
	// Fast restarts: rebind the address while old connections linger in
	// TIME_WAIT.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	// Only wake the accept loop once request data has arrived, up to a
	// 5 second wait. Also keeps empty SYN-flood connections from waking
	// the server.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 5)

	// TCP Fast Open with a pending-connection queue of 256. The kernel
	// may have it disabled; that is fine.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 256)
}
