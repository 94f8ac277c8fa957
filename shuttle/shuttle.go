// Package shuttle implements byte-exact, one-directional forwarding between
// two net.Conns with a non-blocking tee to an observer channel. The data
// path never waits on or fails because of a slow or stuck observer.
package shuttle

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/wire"
)

// DefaultChunkSize is the read buffer size used when none is given.
const DefaultChunkSize = 16 * 1024

// Shuttle forwards bytes from src to dst, copying each chunk (after it has
// been written downstream) onto observer — and, if that send is dropped because
// observer is full, poisons both itself and peerObserver so the framers on
// both directions give up rather than silently desynchronize.
type Shuttle struct {
	src, dst net.Conn

	observer     chan<- wire.Chunk
	peerObserver chan<- wire.Chunk

	metric    metrics.Registry
	direction string

	chunkSize int
	poisoned  bool
}

// New builds a Shuttle forwarding src -> dst. observer receives a copy of
// every chunk forwarded by this Shuttle until the first chunk it cannot take
// is dropped; from then on no further chunks are sent to it. peerObserver is
// poisoned if this
// Shuttle's own observer falls behind, so the companion direction's tracker
// also stops rather than running on a partial view of the stream. direction
// labels the mongoproxy_observer_drops_total series recorded when observer
// can't keep up (the chosen backpressure policy is lossy-observer, not
// blocking — see tee).
func New(src, dst net.Conn, observer, peerObserver chan<- wire.Chunk, metric metrics.Registry, direction string) *Shuttle {
	return &Shuttle{
		src:          src,
		dst:          dst,
		observer:     observer,
		peerObserver: peerObserver,
		metric:       metric,
		direction:    direction,
		chunkSize:    DefaultChunkSize,
	}
}

// SetChunkSize overrides the read buffer size, primarily for tests that
// want to exercise chunk-boundary behavior deterministically.
func (s *Shuttle) SetChunkSize(n int) {
	s.chunkSize = n
}

// Run copies src to dst until src or dst returns an EOF-class error, tee-ing
// each chunk to the observer channel on the way. It returns nil for a clean
// shutdown (either side closing its connection) and a wrapped error for
// anything else.
func (s *Shuttle) Run() error {
	buf := make([]byte, s.chunkSize)
	defer close(s.observer)

	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			if werr := s.writeAll(chunk); werr != nil {
				if isEOFClass(werr) {
					return nil
				}
				return fmt.Errorf("shuttle: write: %w", werr)
			}

			s.tee(chunk)
		}
		if err != nil {
			if isEOFClass(err) {
				return nil
			}
			return fmt.Errorf("shuttle: read: %w", err)
		}
	}
}

func (s *Shuttle) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := s.dst.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// tee forwards a copy of chunk to the observer, non-blocking. If the
// observer can't keep up, this Shuttle poisons itself and best-effort
// notifies its peer so neither tracker limps along on a gap in the stream.
// The drop is counted rather than silently absorbed, per the lossy-observer
// backpressure policy this proxy implements.
func (s *Shuttle) tee(chunk []byte) {
	if s.poisoned {
		return
	}

	select {
	case s.observer <- wire.Chunk{Data: chunk}:
	default:
		s.poisoned = true
		s.metric.IncObserverDrop(s.direction)
		s.poisonPeer()
	}
}

// poisonPeer best-effort notifies the other direction's observer. The peer
// may have already finished and closed its observer channel, in which case
// the send would panic rather than block; that race means the peer's
// tracker is shutting down anyway, so the poison attempt is simply dropped.
func (s *Shuttle) poisonPeer() {
	defer func() { _ = recover() }()
	select {
	case s.peerObserver <- wire.Chunk{Err: wire.ErrPoisoned}:
	default:
	}
}

// isEOFClass reports whether err represents a normal end-of-stream: a clean
// EOF, a closed connection on either end, or a reset by the peer.
func isEOFClass(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Err.Error() == "use of closed network connection" {
			return true
		}
	}
	return strings.Contains(err.Error(), "closed") || strings.Contains(err.Error(), "reset by peer")
}
