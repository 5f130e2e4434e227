//go:build !linux && !darwin

package server

// tuneListener is a no-op on platforms without tuning support.
func tuneListener(fd int) {}
