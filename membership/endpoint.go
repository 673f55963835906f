package membership

import (
	"context"
	"errors"

	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/serializer"
)

var (
	// ErrNoHandler is returned to senders whose envelope names a topic
	// nothing is registered under on the receiving member.
	ErrNoHandler = errors.New("no handler registered for topic")
)

// RawHandler consumes a serialized request and produces a serialized
// response. Typed handlers are wrapped into raw ones by the routing layer,
// which owns the serializer.
type RawHandler func(ctx context.Context, data []byte) *future.Future[[]byte]

// Endpoint is the per-peer I/O surface: a send primitive plus lifecycle.
// Everything an endpoint does is serialized on its own executor, so
// messages to one peer never interleave.
type Endpoint interface {
	URI() string
	Info() Info

	// Open establishes the endpoint's transport presence. Idempotent.
	Open() *future.Future[future.Void]

	// Close tears the transport presence down. Idempotent.
	Close() *future.Future[future.Void]

	// Send serializes the request, delivers it under (topic, clusterID,
	// protocolID) and decodes the reply into resp before the returned
	// future completes.
	Send(ctx context.Context, topic string, clusterID, protocolID uint32, req, resp any, ser serializer.Serializer) *future.Future[future.Void]
}

type handlerKey struct {
	topic      string
	clusterID  uint32
	protocolID uint32
}
