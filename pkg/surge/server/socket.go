package server

import (
	"context"
	"net"
	"syscall"
)

// Listen creates a listener with platform socket tuning applied:
// SO_REUSEADDR everywhere, plus TCP_DEFER_ACCEPT and TCP_FASTOPEN where
// the platform has them. Tuning failures are ignored; a listener that
// works untuned beats one that fails to start.
func Listen(network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			c.Control(func(fd uintptr) {
				tuneListener(int(fd))
			})
			return nil
		},
	}
	return lc.Listen(context.Background(), network, addr)
}
