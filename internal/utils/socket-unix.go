//go:build !windows

package utils

import (
	"errors"
	"syscall"
)

// setSocketOptions disables Nagle and sizes both kernel buffers of a freshly
// dialed connection. The kernel may clamp bufferSize.
func setSocketOptions(fd uintptr, bufferSize int) error {
	sock := int(fd)
	return errors.Join(
		syscall.SetsockoptInt(sock, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1),
		syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_RCVBUF, bufferSize),
		syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_SNDBUF, bufferSize),
	)
}
