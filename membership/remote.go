package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/serializer"
	"github.com/maxpoletaev/cohort/transport"
)

var _ Endpoint = (*RemoteEndpoint)(nil)

const sendTimeout = 5 * time.Second

// RemoteEndpoint is the local representation of a peer: a connection plus
// the executor all sends to that peer are serialized on. The member status
// tracks the outcome of the most recent exchange.
type RemoteEndpoint struct {
	mut      sync.RWMutex
	info     Info
	localURI string
	tr       transport.Transport
	exec     *executor.Executor
	logger   log.Logger

	// Guarded by exec.
	conn   transport.Conn
	opened bool
}

func NewRemoteEndpoint(info Info, localURI string, tr transport.Transport, exec *executor.Executor, logger log.Logger) *RemoteEndpoint {
	info.Status = StatusAlive

	return &RemoteEndpoint{
		info:     info,
		localURI: localURI,
		tr:       tr,
		exec:     exec,
		logger:   logger,
	}
}

func (e *RemoteEndpoint) URI() string {
	return e.info.URI
}

func (e *RemoteEndpoint) Info() Info {
	e.mut.RLock()
	defer e.mut.RUnlock()

	return e.info
}

// SetStatus downgrades or restores the member's health as seen locally.
// Called from the send path on transport errors, and by the gossip
// failure detector.
func (e *RemoteEndpoint) SetStatus(status Status) {
	e.mut.Lock()
	defer e.mut.Unlock()

	if e.info.Status != status {
		level.Debug(e.logger).Log(
			"msg", "member status changed",
			"uri", e.info.URI,
			"old_status", e.info.Status,
			"new_status", status,
		)
	}

	e.info.Status = status
}

func (e *RemoteEndpoint) Open() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := e.exec.Submit(func() {
		if e.opened {
			out.Complete(future.Void{})
			return
		}

		conn, err := e.tr.Dial(context.Background(), e.info.URI)
		if err != nil {
			out.Fail(fmt.Errorf("dial %s: %w", e.info.URI, err))
			return
		}

		e.conn = conn
		e.opened = true

		level.Debug(e.logger).Log("msg", "remote endpoint open", "uri", e.info.URI)
		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (e *RemoteEndpoint) Close() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := e.exec.Submit(func() {
		if !e.opened {
			out.Complete(future.Void{})
			return
		}

		err := e.conn.Close()
		e.conn = nil
		e.opened = false

		if err != nil {
			out.Fail(fmt.Errorf("close connection to %s: %w", e.info.URI, err))
			return
		}

		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (e *RemoteEndpoint) Send(ctx context.Context, topic string, clusterID, protocolID uint32, req, resp any, ser serializer.Serializer) *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := e.exec.Submit(func() {
		if !e.opened {
			out.Fail(fmt.Errorf("%w: %s", transport.ErrNoPeer, e.info.URI))
			return
		}

		// The send blocks the endpoint executor by design: that is what
		// serializes traffic to one peer. A deadline keeps a hung peer
		// from stalling the executor forever.
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, sendTimeout)
			defer cancel()
		}

		data, err := ser.Marshal(req)
		if err != nil {
			out.Fail(err)
			return
		}

		payload, err := e.conn.Send(ctx, &transport.Envelope{
			Topic:      topic,
			ClusterID:  clusterID,
			ProtocolID: protocolID,
			Sender:     e.localURI,
			Payload:    data,
		})
		if err != nil {
			if errors.Is(err, transport.ErrNoPeer) {
				e.SetStatus(StatusSuspicious)
			}

			out.Fail(err)

			return
		}

		e.SetStatus(StatusAlive)

		if err := ser.Unmarshal(payload, resp); err != nil {
			out.Fail(err)
			return
		}

		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}
