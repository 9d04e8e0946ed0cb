//go:build unix

package mirror

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// batchSupported reports whether ipv4.PacketConn.WriteBatch can send.
const batchSupported = true

// socketControl applies SO_RCVBUF and SO_SNDBUF before the socket is bound.
func socketControl(readBuf, writeBuf int) func(network, address string, c syscall.RawConn) error {
	if readBuf == 0 && writeBuf == 0 {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if readBuf > 0 {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, readBuf); opErr != nil {
					return
				}
			}
			if writeBuf > 0 {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, writeBuf)
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

// isTransientReceiveError reports errors the kernel queues on the socket
// after an ICMP error for an earlier send. They describe a mirror, not the
// receiver socket.
func isTransientReceiveError(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ECONNRESET)
}

// recvfrom truncates oversized datagrams without an error.
func isTruncatedReceive(err error) bool {
	return false
}
