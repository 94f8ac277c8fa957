//go:build linux

package dstaddr

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func origDst(conn *net.TCPConn) (*net.TCPAddr, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("dstaddr: syscall conn: %w", err)
	}

	var addr unix.RawSockaddrInet4
	size := uint32(unsafe.Sizeof(addr)) //nolint:gosec
	var sysErr error

	ctrlErr := raw.Control(func(fd uintptr) {
		_, _, errno := unix.Syscall6(
			unix.SYS_GETSOCKOPT,
			fd,
			uintptr(unix.IPPROTO_IP),
			uintptr(unix.SO_ORIGINAL_DST),
			uintptr(unsafe.Pointer(&addr)), //nolint:gosec
			uintptr(unsafe.Pointer(&size)), //nolint:gosec
			0,
		)
		if errno != 0 {
			sysErr = errno
		}
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("dstaddr: control: %w", ctrlErr)
	}
	if sysErr != nil {
		return nil, fmt.Errorf("dstaddr: getsockopt(SO_ORIGINAL_DST): %w", sysErr)
	}

	ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
	port := int(addr.Port&0xff)<<8 | int(addr.Port>>8)
	return &net.TCPAddr{IP: ip, Port: port}, nil
}
