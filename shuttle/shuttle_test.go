package shuttle_test

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/shuttle"
	"github.com/morpheus-med/mongoproxy/wire"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestShuttleForwardsBytesExactly(t *testing.T) {
	src, srcWrite := pipePair(t)
	dst, dstRead := pipePair(t)

	observer := make(chan wire.Chunk, 16)
	peerObserver := make(chan wire.Chunk, 16)

	sh := shuttle.New(src, dst, observer, peerObserver, metrics.New(), "client_to_server")
	sh.SetChunkSize(4) // force multiple chunks

	payload := []byte("the quick brown fox jumps over the lazy dog")

	done := make(chan error, 1)
	go func() { done <- sh.Run() }()

	go func() {
		_, _ = srcWrite.Write(payload)
		_ = srcWrite.Close()
	}()

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 64)
	for len(received) < len(payload) {
		n, err := dstRead.Read(buf)
		received = append(received, buf[:n]...)
		if err != nil {
			break
		}
	}

	if !bytes.Equal(received, payload) {
		t.Fatalf("forwarded bytes = %q, want %q", received, payload)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after src closed")
	}

	var seen []byte
	for c := range observer {
		if c.Err != nil {
			t.Fatalf("unexpected poison chunk: %v", c.Err)
		}
		seen = append(seen, c.Data...)
	}
	if !bytes.Equal(seen, payload) {
		t.Fatalf("observed bytes = %q, want %q", seen, payload)
	}
}

func TestShuttleObserverOverflowPoisonsPeer(t *testing.T) {
	src, srcWrite := pipePair(t)
	dst, dstRead := pipePair(t)
	go func() { _, _ = io.Copy(io.Discard, dstRead) }()

	observer := make(chan wire.Chunk) // unbuffered: first tee overflows immediately
	peerObserver := make(chan wire.Chunk, 1)

	reg := metrics.New()
	sh := shuttle.New(src, dst, observer, peerObserver, reg, "client_to_server")

	done := make(chan error, 1)
	go func() { done <- sh.Run() }()

	go func() {
		_, _ = srcWrite.Write([]byte("hello"))
		_ = srcWrite.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	select {
	case c := <-peerObserver:
		if c.Err == nil {
			t.Fatal("expected poison chunk on peer observer")
		}
	default:
		t.Fatal("expected peer observer to receive a poison chunk")
	}

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `mongoproxy_observer_drops_total{direction="client_to_server"} 1`) {
		t.Errorf("observer drop not counted, got:\n%s", rr.Body.String())
	}
}
