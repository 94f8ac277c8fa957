//go:build !linux

package dstaddr

import (
	"fmt"
	"net"
	"runtime"
)

func origDst(_ *net.TCPConn) (*net.TCPAddr, error) {
	return nil, fmt.Errorf("dstaddr: transparent destination recovery is not supported on %s", runtime.GOOS)
}
