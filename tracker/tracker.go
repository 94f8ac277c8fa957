// Package tracker correlates client requests with server responses by
// request id, and reports per-command metrics and tracing spans as each
// pair completes.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/morpheus-med/mongoproxy/decode"
	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/tracing"
)

// DefaultTTL bounds how long a pending request waits for its reply before
// it is evicted as abandoned (e.g. the client disconnected mid-cursor, or
// the server never replied).
const DefaultTTL = time.Hour

// PendingRequest is an in-flight client request awaiting its matching
// server response.
type PendingRequest struct {
	Op         decode.Kind
	Command    string
	Collection string
	StartedAt  time.Time
	Span       tracing.Span
}

// Tracker holds one connection's worth of in-flight request state. It is
// safe for concurrent use by the two observer goroutines that feed it
// client and server messages.
type Tracker struct {
	mu      sync.Mutex
	pending map[int32]PendingRequest

	ttl    time.Duration
	metric metrics.Registry
	tracer tracing.Tracer
}

// New creates a Tracker that reports to reg and, when tracer is non-nil,
// starts a span per request.
func New(reg metrics.Registry, tracer tracing.Tracer) *Tracker {
	if tracer == nil {
		tracer = tracing.NewNoop()
	}
	return &Tracker{
		pending: make(map[int32]PendingRequest),
		ttl:     DefaultTTL,
		metric:  reg,
		tracer:  tracer,
	}
}

// SetTTL overrides the default eviction TTL, primarily for tests.
func (t *Tracker) SetTTL(ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttl = ttl
}

// OnClientMessage records a new pending request keyed by requestID. If a
// prior pending request already occupies that id (the id space wrapped
// around while the original was still in flight) it is silently replaced,
// per spec: the client owns request id uniqueness, not the tracker.
//
// requestID == 0 is the protocol's "not a reply" sentinel, never a real
// correlation id; inserting pending[0] would let an unrelated orphan
// response_to == 0 later "correlate" against it instead of being counted
// as an orphan.
func (t *Tracker) OnClientMessage(ctx context.Context, requestID int32, d decode.Decoded, now time.Time) {
	if requestID == 0 || d.Command == "" {
		return
	}

	_, span := t.tracer.StartSpan(ctx, d.Command, d.TraceContext)
	span.SetCommand(d.Command, d.Namespace)

	t.mu.Lock()
	t.pending[requestID] = PendingRequest{
		Op:         d.Kind,
		Command:    d.Command,
		Collection: d.Namespace,
		StartedAt:  now,
		Span:       span,
	}
	t.mu.Unlock()

	t.metric.IncCommand(d.Command, d.Namespace)
}

// OnServerMessage matches a server response to its pending request by
// responseTo. A response with no matching pending request is an orphan —
// either the request predates this tracker's lifetime, or its pending
// entry was already evicted by GC.
func (t *Tracker) OnServerMessage(d decode.Decoded, responseTo int32, now time.Time, direction string) {
	t.mu.Lock()
	pr, ok := t.pending[responseTo]
	if ok {
		delete(t.pending, responseTo)
	}
	t.mu.Unlock()

	if !ok {
		t.metric.IncOrphanResponse(direction)
		return
	}

	t.metric.ObserveCommandLatency(pr.Command, now.Sub(pr.StartedAt).Seconds())
	if d.HasOK && !d.OK {
		pr.Span.SetError(d.ErrCode, d.ErrMsg)
	}
	pr.Span.End()
}

// GC evicts pending requests older than the TTL, recording each as a
// request timeout. It should be called periodically by the owning
// connection's goroutine, not concurrently with itself.
func (t *Tracker) GC(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, pr := range t.pending {
		if now.Sub(pr.StartedAt) < t.ttl {
			continue
		}
		delete(t.pending, id)
		pr.Span.End()
		evicted++
		t.metric.IncRequestTimeout(pr.Command)
	}
	return evicted
}

// PendingCount reports how many requests are currently awaiting a
// response, for tests and diagnostics.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
