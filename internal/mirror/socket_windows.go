//go:build windows

package mirror

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// x/net does not implement sendmsg on Windows.
const batchSupported = false

func socketControl(readBuf, writeBuf int) func(network, address string, c syscall.RawConn) error {
	if readBuf == 0 && writeBuf == 0 {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if readBuf > 0 {
				if opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, readBuf); opErr != nil {
					return
				}
			}
			if writeBuf > 0 {
				opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, writeBuf)
			}
		})
		if err != nil {
			return err
		}
		if opErr != nil {
			return os.NewSyscallError("setsockopt", opErr)
		}
		return nil
	}
}

// Windows reports ICMP port unreachable for an earlier send as
// WSAECONNRESET on the next receive.
func isTransientReceiveError(err error) bool {
	return errors.Is(err, windows.WSAECONNRESET) || errors.Is(err, windows.WSAECONNREFUSED)
}

// Windows fills the buffer with the head of an oversized datagram and
// reports WSAEMSGSIZE where unix silently truncates.
func isTruncatedReceive(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE)
}
