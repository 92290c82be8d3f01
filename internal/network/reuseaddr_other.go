//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config on platforms without
// socket option support.
func ReuseAddrListenConfig(rcvBuf int) net.ListenConfig {
	return net.ListenConfig{}
}
