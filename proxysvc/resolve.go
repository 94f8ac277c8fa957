package proxysvc

import (
	"errors"
	"fmt"
	"net"

	"github.com/morpheus-med/mongoproxy/dstaddr"
)

// ErrAddressNotAvailable is returned when an accepted connection has no
// resolvable upstream: either the literal address fails to resolve, or
// transparent mode is in effect and the kernel has no original destination
// recorded for the socket.
var ErrAddressNotAvailable = errors.New("proxysvc: address not available")

// ResolveUpstream determines the address to dial for an accepted
// connection. If spec.Upstream is set, it's resolved literally; otherwise
// the original pre-NAT destination is recovered from conn.
func ResolveUpstream(spec Spec, conn *net.TCPConn) (string, error) {
	if spec.Upstream != "" {
		addr, err := net.ResolveTCPAddr("tcp", spec.Upstream)
		if err != nil {
			return "", fmt.Errorf("%w: resolve %q: %v", ErrAddressNotAvailable, spec.Upstream, err) //nolint:errorlint
		}
		return addr.String(), nil
	}

	addr, err := dstaddr.OrigDst(conn)
	if err != nil {
		return "", fmt.Errorf("%w: original destination: %v", ErrAddressNotAvailable, err) //nolint:errorlint
	}
	return addr.String(), nil
}

// formatClientAddress returns just the IP portion of conn's remote address,
// stripping the ephemeral client port so per-client metric series don't
// grow unbounded.
func formatClientAddress(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
