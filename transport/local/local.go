package local

import (
	"context"
	"sync"

	"github.com/maxpoletaev/cohort/transport"
)

var (
	_ transport.Transport = (*Network)(nil)
	_ transport.Conn      = (*conn)(nil)
	_ transport.Binding   = (*binding)(nil)
)

// Network is an in-process transport: bindings are kept in a map keyed by
// URI and Send calls the target handler directly. A single Network instance
// is shared by every coordinator of an in-process cluster, which makes it
// the transport of choice for tests and single-binary setups.
type Network struct {
	mut      sync.RWMutex
	bindings map[string]*binding
}

func NewNetwork() *Network {
	return &Network{
		bindings: make(map[string]*binding),
	}
}

func (n *Network) Bind(uri string, handler transport.Handler) (transport.Binding, error) {
	n.mut.Lock()
	defer n.mut.Unlock()

	b := &binding{
		net:     n,
		uri:     uri,
		handler: handler,
	}

	n.bindings[uri] = b

	return b, nil
}

// Dial never fails: the peer is resolved at send time, so that members can
// be dialed before the remote side has bound its handler.
func (n *Network) Dial(ctx context.Context, uri string) (transport.Conn, error) {
	return &conn{net: n, uri: uri}, nil
}

func (n *Network) lookup(uri string) *binding {
	n.mut.RLock()
	defer n.mut.RUnlock()

	return n.bindings[uri]
}

func (n *Network) unbind(uri string, b *binding) {
	n.mut.Lock()
	defer n.mut.Unlock()

	if n.bindings[uri] == b {
		delete(n.bindings, uri)
	}
}

type binding struct {
	net     *Network
	uri     string
	handler transport.Handler
}

func (b *binding) Close() error {
	b.net.unbind(b.uri, b)
	return nil
}

type conn struct {
	net *Network
	uri string
}

func (c *conn) Send(ctx context.Context, env *transport.Envelope) ([]byte, error) {
	b := c.net.lookup(c.uri)
	if b == nil {
		return nil, transport.ErrNoPeer
	}

	return b.handler(ctx, env)
}

func (c *conn) Close() error {
	return nil
}
