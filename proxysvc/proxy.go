// Package proxysvc wires together address resolution, the byte-exact
// shuttle, and the protocol tracker into the accept loop described by the
// proxy-spec: bind locally, recover or dial a literal upstream, and relay
// every accepted connection while observing it in band.
package proxysvc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/morpheus-med/mongoproxy/decode"
	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/shuttle"
	"github.com/morpheus-med/mongoproxy/tracker"
	"github.com/morpheus-med/mongoproxy/tracing"
	"github.com/morpheus-med/mongoproxy/wire"
)

// observerQueueCapacity bounds the per-direction observer channel.
const observerQueueCapacity = 32

// Options configures a Proxy.
type Options struct {
	Spec Spec

	Metrics metrics.Registry
	Tracer  tracing.Tracer

	// LogMongoMessages enables decoding trace-context fields out of client
	// requests, at the cost of walking further into the BSON document.
	LogMongoMessages bool

	// GCInterval controls how often each connection's tracker sweeps for
	// abandoned pending requests. Defaults to a quarter of tracker.DefaultTTL.
	GCInterval time.Duration
}

// Proxy accepts client connections on Options.Spec.LocalPort and relays
// each one to its resolved upstream.
type Proxy struct {
	opts Options
	lis  net.Listener
}

// New builds a Proxy from opts. Call ListenAndServe to start accepting.
func New(opts Options) *Proxy {
	if opts.Tracer == nil {
		opts.Tracer = tracing.NewNoop()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = tracker.DefaultTTL / 4
	}
	return &Proxy{opts: opts}
}

// ListenAndServe binds the proxy's listen address and accepts connections
// until ctx is canceled. Per-connection errors (including upstream dial
// failures and transparent-lookup failures) are logged and counted, never
// fatal to the accept loop — only a bind failure on startup returns an
// error.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", p.opts.Spec.BindAddr())
	if err != nil {
		return fmt.Errorf("proxysvc: listen %s: %w", p.opts.Spec.BindAddr(), err)
	}
	p.lis = lis

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Per-accept errors never terminate the loop; a saturated file
			// descriptor table should not take the whole proxy down.
			log.Printf("proxysvc: accept: %v", err)
			continue
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		go p.handleConnection(ctx, tcpConn)
	}
}

// Close stops accepting new connections.
func (p *Proxy) Close() error {
	if p.lis == nil {
		return nil
	}
	if err := p.lis.Close(); err != nil {
		return fmt.Errorf("proxysvc: close: %w", err)
	}
	return nil
}

func (p *Proxy) handleConnection(ctx context.Context, client *net.TCPConn) {
	connID := uuid.NewString()
	clientLabel := formatClientAddress(client)
	p.opts.Metrics.IncConnectionEstablished(clientLabel)
	defer p.opts.Metrics.IncConnectionClosed(clientLabel)

	upstreamAddr, err := p.resolveUpstream(client)
	if err != nil {
		log.Printf("proxysvc: conn %s %s: %v", connID, clientLabel, err)
		p.opts.Metrics.IncConnectionError(clientLabel)
		if p.opts.Spec.Upstream == "" && errors.Is(err, ErrAddressNotAvailable) {
			p.opts.Metrics.IncTransparentLookupFailure()
		}
		_ = client.Close()
		return
	}

	dialStart := time.Now()
	upstream, err := net.DialTimeout("tcp", upstreamAddr, 10*time.Second)
	if err != nil {
		log.Printf("proxysvc: conn %s %s: dial %s: %v", connID, clientLabel, upstreamAddr, err)
		p.opts.Metrics.IncConnectionError(clientLabel)
		_ = client.Close()
		return
	}
	p.opts.Metrics.ObserveServerConnectTime(upstreamAddr, time.Since(dialStart).Seconds())

	log.Printf("conn %s: proxying %s -> %s", connID, clientLabel, upstreamAddr)

	if tcpUp, ok := upstream.(*net.TCPConn); ok {
		_ = tcpUp.SetNoDelay(true)
	}
	_ = client.SetNoDelay(true)

	p.relay(ctx, connID, client, upstream)
}

func (p *Proxy) resolveUpstream(client *net.TCPConn) (string, error) {
	return ResolveUpstream(p.opts.Spec, client)
}

// relay wires a client<->upstream connection pair: one shuttle per
// direction, each tee-ing onto its own observer channel, each observer
// channel consumed by a tracker-driven framer. Either shuttle finishing
// (cleanly or not) closes both connections, which drives the other
// shuttle's read to an EOF-class error.
func (p *Proxy) relay(ctx context.Context, connID string, client, upstream net.Conn) {
	clientToServer := make(chan wire.Chunk, observerQueueCapacity)
	serverToClient := make(chan wire.Chunk, observerQueueCapacity)

	reg := tracker.New(p.opts.Metrics, p.opts.Tracer)

	gcCtx, cancelGC := context.WithCancel(ctx)
	defer cancelGC()
	go p.runGC(gcCtx, reg)

	shuttleC2S := shuttle.New(client, upstream, clientToServer, serverToClient, p.opts.Metrics, tracker.DirClientToServer.String())
	shuttleS2C := shuttle.New(upstream, client, serverToClient, clientToServer, p.opts.Metrics, tracker.DirServerToClient.String())

	relayErrCh := make(chan error, 2)
	go func() { relayErrCh <- shuttleC2S.Run() }()
	go func() { relayErrCh <- shuttleS2C.Run() }()

	observeErrCh := make(chan error, 2)
	go func() {
		observeErrCh <- tracker.RunObserver(ctx, wire.NewFramer(wire.NewChunkSource(clientToServer)),
			tracker.DirClientToServer, reg, decode.Options{CollectTrace: p.opts.LogMongoMessages})
	}()
	go func() {
		observeErrCh <- tracker.RunObserver(ctx, wire.NewFramer(wire.NewChunkSource(serverToClient)),
			tracker.DirServerToClient, reg, decode.Options{})
	}()

	err := <-relayErrCh
	_ = client.Close()
	_ = upstream.Close()
	<-relayErrCh

	if err != nil {
		log.Printf("proxysvc: conn %s relay: %v", connID, err)
		p.opts.Metrics.IncConnectionError(formatClientAddress(client))
	}

	for i := 0; i < 2; i++ {
		if oerr := <-observeErrCh; oerr != nil {
			log.Printf("proxysvc: conn %s observe: %v", connID, oerr)
		}
	}
}

func (p *Proxy) runGC(ctx context.Context, reg *tracker.Tracker) {
	t := time.NewTicker(p.opts.GCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			reg.GC(now)
		}
	}
}
