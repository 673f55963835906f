package transport

import (
	"context"
	"errors"
)

var (
	// ErrNoPeer is returned when a message is sent to a URI that is not
	// reachable: nothing is bound there, or the binding has been closed.
	ErrNoPeer = errors.New("no peer at the target uri")
)

// Envelope is the unit of exchange between members. The topic, cluster ID
// and protocol ID together route the payload to the matching handler on
// the receiving side: many co-resident clusters speak the same six topics
// over one transport, and the cluster ID keeps their traffic apart.
type Envelope struct {
	Topic      string
	ClusterID  uint32
	ProtocolID uint32
	Sender     string
	Payload    []byte
}

// Handler processes an inbound envelope and returns the response payload.
type Handler func(ctx context.Context, env *Envelope) ([]byte, error)

// Conn is a client connection to a single remote URI.
type Conn interface {
	// Send delivers the envelope and blocks until the response payload
	// arrives or the context expires.
	Send(ctx context.Context, env *Envelope) ([]byte, error)
	Close() error
}

// Binding is a local server presence at a URI.
type Binding interface {
	Close() error
}

// Transport produces connections and bindings for member URIs. A single
// transport instance is shared by all members of a coordinator.
type Transport interface {
	// Dial prepares a connection to the given URI. Implementations may
	// connect lazily; unreachable peers surface as ErrNoPeer on Send.
	Dial(ctx context.Context, uri string) (Conn, error)

	// Bind installs the handler as the receiver for envelopes addressed
	// to the given URI.
	Bind(uri string, handler Handler) (Binding, error)
}
