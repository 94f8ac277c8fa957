// Package admin serves the proxy's admin HTTP surface: an index page,
// a liveness check, and Prometheus metrics.
package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/morpheus-med/mongoproxy/metrics"
)

const indexPage = `<html>
<head><title>mongoproxy</title></head>
<body>
<h1>mongoproxy</h1>
<p><a href="/metrics">metrics</a></p>
<p><a href="/health">health</a></p>
</body>
</html>
`

// Server is the admin HTTP listener.
type Server struct {
	httpSrv *http.Server
}

// New builds an admin Server bound to addr, exposing reg's metrics.
func New(addr string, reg metrics.Registry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexPage))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", reg.Handler())

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving admin requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin: listen and serve: %w", err)
	}
	return nil
}

// Serve blocks serving admin requests on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}
