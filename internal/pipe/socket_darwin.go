//go:build darwin

package pipe

import "syscall"

// tuneSocket mirrors as_pipe_modify_fd's buffer sizing on Darwin,
// grounded on redisx's setReceiveBuffer pattern. Darwin has no
// TCP_WINDOW_CLAMP equivalent exposed through syscall, so the receive
// window is bounded only by SO_RCVBUF here.
func tuneSocket(fd int, sendBuf, recvBuf int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBuf); err != nil {
		return err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf); err != nil {
		return err
	}
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 0)
}
