//go:build !unix

package wake

import "net"

func setBroadcast(conn *net.UDPConn) error {
	return nil
}
