//go:build windows

package utils

import (
	"errors"
	"syscall"
)

func setSocketOptions(fd uintptr, bufferSize int) error {
	sock := syscall.Handle(fd)
	return errors.Join(
		syscall.SetsockoptInt(sock, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1),
		syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_RCVBUF, bufferSize),
		syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_SNDBUF, bufferSize),
	)
}
