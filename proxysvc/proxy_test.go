package proxysvc_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/proxysvc"
	"github.com/morpheus-med/mongoproxy/wire"
)

// startEchoUpstream runs a trivial server that, on each accepted connection,
// reads one wire message and writes back an OP_REPLY correlated to it, then
// closes that connection. It keeps accepting because startProxy's readiness
// probe is itself relayed to the upstream.
func startEchoUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer func() { _ = conn.Close() }()

				framer := wire.NewFramer(conn)
				msg, err := framer.Next()
				if err != nil {
					return
				}

				reply := make([]byte, wire.HeaderSize+20)
				wire.PutHeader(reply, wire.Header{
					TotalLength: int32(len(reply)), //nolint:gosec
					RequestID:   1,
					ResponseTo:  msg.Header.RequestID,
					OpCode:      wire.OpReply,
				})
				_, _ = conn.Write(reply)
			}(conn)
		}
	}()

	return ln.Addr().String()
}

// startProxy picks a free local port, starts a Proxy bound to it forwarding
// to upstream, and waits until it's accepting connections.
func startProxy(t *testing.T, upstream string) (*proxysvc.Proxy, string) {
	t.Helper()

	port, err := freePort(t)
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}

	spec := proxysvc.Spec{LocalPort: port, Upstream: upstream}
	p := proxysvc.New(proxysvc.Options{
		Spec:    spec,
		Metrics: metrics.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.ListenAndServe(ctx) }()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	d := net.Dialer{Timeout: 100 * time.Millisecond}
	for i := 0; i < 50; i++ {
		conn, dialErr := d.Dial("tcp", addr)
		if dialErr == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		_ = p.Close()
	})

	return p, addr
}

func freePort(t *testing.T) (int, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func buildSimpleMessage(requestID int32) []byte {
	payload := make([]byte, 5) // flag bits(4) + a minimal body kind byte
	msg := make([]byte, wire.HeaderSize+len(payload))
	wire.PutHeader(msg, wire.Header{
		TotalLength: int32(len(msg)), //nolint:gosec
		RequestID:   requestID,
		OpCode:      wire.OpMsg,
	})
	copy(msg[wire.HeaderSize:], payload)
	return msg
}

func TestProxyForwardsClientRequestAndUpstreamReply(t *testing.T) {
	upstream := startEchoUpstream(t)
	_, addr := startProxy(t, upstream)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer func() { _ = conn.Close() }()

	msg := buildSimpleMessage(77)
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	framer := wire.NewFramer(conn)
	reply, err := framer.Next()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Header.ResponseTo != 77 {
		t.Errorf("responseTo = %d, want 77", reply.Header.ResponseTo)
	}
}

// TestProxyTransparentModeWithNoOriginalDestinationClosesConnection covers
// the case where a proxy is run in transparent mode (no literal upstream)
// but the accepted socket was never actually redirected by the kernel, so
// there is no original destination to recover. The connection must be
// closed rather than hung, and the failure counted distinctly from a
// generic connection error.
func TestProxyTransparentModeWithNoOriginalDestinationClosesConnection(t *testing.T) {
	port, err := freePort(t)
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}

	reg := metrics.New()
	p := proxysvc.New(proxysvc.Options{
		Spec:    proxysvc.Spec{LocalPort: port},
		Metrics: reg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = p.Close()
	})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var conn net.Conn
	d := net.Dialer{Timeout: 100 * time.Millisecond}
	for i := 0; i < 50; i++ {
		conn, err = d.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, readErr := conn.Read(buf); readErr == nil && n > 0 {
		t.Fatalf("expected connection to be closed, got %d bytes", n)
	}

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics scrape status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "mongoproxy_transparent_lookup_failures_total 1") {
		t.Errorf("transparent lookup failure not counted, got:\n%s", rr.Body.String())
	}
}

func TestProxyUpstreamRefusedClosesClientConnection(t *testing.T) {
	// Bind and immediately close, to get a guaranteed-refused address.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadUpstream := ln.Addr().String()
	_ = ln.Close()

	_, addr := startProxy(t, deadUpstream)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected connection to be closed, got %d bytes", n)
	}
}
