package admin_test

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/morpheus-med/mongoproxy/admin"
	"github.com/morpheus-med/mongoproxy/metrics"
)

func TestRoutes(t *testing.T) {
	reg := metrics.New()
	reg.SetRuntimeInfo(metrics.RuntimeInfo{Version: "test", Proxy: "9999", ServiceName: "mongoproxy"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := admin.New(ln.Addr().String(), reg)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-srvErr
	})

	base := "http://" + ln.Addr().String()

	for _, tc := range []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/", "mongoproxy"},
		{"/metrics", "mongoproxy_runtime_info"},
	} {
		resp, err := http.Get(base + tc.path) //nolint:gosec,noctx
		if err != nil {
			t.Fatalf("%s: get: %v", tc.path, err)
		}
		body := make([]byte, 4096)
		n, _ := resp.Body.Read(body)
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.path, resp.StatusCode)
		}
		if !strings.Contains(string(body[:n]), tc.want) {
			t.Errorf("%s: body = %q, want substring %q", tc.path, body[:n], tc.want)
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	reg := metrics.New()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := admin.New(ln.Addr().String(), reg)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-srvErr
	})

	resp, err := http.Get("http://" + ln.Addr().String() + "/nope") //nolint:gosec,noctx
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
