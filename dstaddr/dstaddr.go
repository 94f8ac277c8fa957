// Package dstaddr recovers the original destination of a transparently
// redirected TCP connection (e.g. via iptables REDIRECT/TPROXY), so the
// proxy can forward to it when no explicit upstream is configured.
package dstaddr

import "net"

// OrigDst returns the pre-NAT destination address of conn, as recorded by
// the kernel at redirect time. Platform support varies; see dstaddr_linux.go
// and dstaddr_other.go.
func OrigDst(conn *net.TCPConn) (*net.TCPAddr, error) {
	return origDst(conn)
}
