//go:build !unix && !windows

package mirror

import "syscall"

const batchSupported = false

func socketControl(readBuf, writeBuf int) func(network, address string, c syscall.RawConn) error {
	return nil
}

func isTransientReceiveError(err error) bool {
	return false
}

func isTruncatedReceive(err error) bool {
	return false
}
