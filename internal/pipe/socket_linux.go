//go:build linux

package pipe

import "syscall"

// tuneSocket applies the send/receive buffer sizes and turns
// TCP_NODELAY off, leaving Nagle's coalescing enabled, then clamps the advertised receive window via
// TCP_WINDOW_CLAMP so a slow reader backs off the sender instead of
// the kernel growing an unbounded receive buffer (SPEC_FULL.md §4,
// the Linux-only addition over as_pipe_modify_fd).
func tuneSocket(fd int, sendBuf, recvBuf int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBuf); err != nil {
		return err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf); err != nil {
		return err
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 0); err != nil {
		return err
	}
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_WINDOW_CLAMP, recvBuf)
}
