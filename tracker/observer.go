package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/morpheus-med/mongoproxy/decode"
	"github.com/morpheus-med/mongoproxy/wire"
)

// Direction identifies which leg of a connection an observer is watching.
type Direction int

const (
	// DirClientToServer observes requests flowing from the client.
	DirClientToServer Direction = iota
	// DirServerToClient observes responses flowing from the server.
	DirServerToClient
)

func (d Direction) String() string {
	if d == DirServerToClient {
		return "server_to_client"
	}
	return "client_to_server"
}

// RunObserver decodes every message the framer yields and feeds it to
// tracker, until the framer reaches a clean boundary (io.EOF), is poisoned
// by its peer (wire.ErrPoisoned), or errors. A clean EOF or poison is not
// reported as an error, matching the framer's own boundary semantics.
func RunObserver(ctx context.Context, framer *wire.Framer, dir Direction, tracker *Tracker, opts decode.Options) error {
	for {
		msg, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, wire.ErrPoisoned) {
				return nil
			}
			return fmt.Errorf("tracker: observe %s: %w", dir, err)
		}

		d, err := decode.Decode(msg.Header, msg.Payload, opts)
		if err != nil {
			// A single unparsable message does not invalidate the rest of
			// the stream; the data path already forwarded the bytes.
			continue
		}

		now := time.Now()
		switch dir {
		case DirClientToServer:
			tracker.OnClientMessage(ctx, msg.Header.RequestID, d, now)
		case DirServerToClient:
			tracker.OnServerMessage(d, msg.Header.ResponseTo, now, dir.String())
		}
	}
}
