//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR on
// the socket before binding. A positive rcvBuf also sizes the receive
// buffer.
func ReuseAddrListenConfig(rcvBuf int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				h := syscall.Handle(fd)
				syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if rcvBuf > 0 {
					syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_RCVBUF, rcvBuf)
				}
			})
		},
	}
}
