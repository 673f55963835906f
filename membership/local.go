package membership

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/internal/generic"
	"github.com/maxpoletaev/cohort/serializer"
	"github.com/maxpoletaev/cohort/transport"
)

var _ Endpoint = (*LocalEndpoint)(nil)

// LocalEndpoint is the endpoint of the node itself. Besides sending, it
// owns the handler table inbound messages are dispatched through, and a
// transport binding that makes the node reachable. Sends to the local URI
// short-circuit through the handler table without touching the transport.
type LocalEndpoint struct {
	info     Info
	tr       transport.Transport
	exec     *executor.Executor
	logger   log.Logger
	handlers generic.SyncMap[handlerKey, RawHandler]

	// Guarded by exec.
	binding transport.Binding
	opened  bool
}

func NewLocalEndpoint(info Info, tr transport.Transport, exec *executor.Executor, logger log.Logger) *LocalEndpoint {
	info.Status = StatusAlive

	return &LocalEndpoint{
		info:   info,
		tr:     tr,
		exec:   exec,
		logger: logger,
	}
}

func (e *LocalEndpoint) URI() string {
	return e.info.URI
}

func (e *LocalEndpoint) Info() Info {
	return e.info
}

// RegisterHandler installs a handler under (topic, clusterID,
// protocolID). At most one handler exists per key: re-registration
// replaces the previous one.
func (e *LocalEndpoint) RegisterHandler(topic string, clusterID, protocolID uint32, h RawHandler) {
	e.handlers.Store(handlerKey{topic, clusterID, protocolID}, h)
}

// UnregisterHandler removes the handler for the key. Safe to call when no
// handler is registered.
func (e *LocalEndpoint) UnregisterHandler(topic string, clusterID, protocolID uint32) {
	e.handlers.Delete(handlerKey{topic, clusterID, protocolID})
}

func (e *LocalEndpoint) Open() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := e.exec.Submit(func() {
		if e.opened {
			out.Complete(future.Void{})
			return
		}

		binding, err := e.tr.Bind(e.info.URI, e.dispatch)
		if err != nil {
			out.Fail(fmt.Errorf("bind %s: %w", e.info.URI, err))
			return
		}

		e.binding = binding
		e.opened = true

		level.Debug(e.logger).Log("msg", "local endpoint open", "uri", e.info.URI)
		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (e *LocalEndpoint) Close() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := e.exec.Submit(func() {
		if !e.opened {
			out.Complete(future.Void{})
			return
		}

		err := e.binding.Close()
		e.binding = nil
		e.opened = false

		if err != nil {
			out.Fail(fmt.Errorf("unbind %s: %w", e.info.URI, err))
			return
		}

		level.Debug(e.logger).Log("msg", "local endpoint closed", "uri", e.info.URI)
		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

// dispatch is the transport-facing receive path. The handler invocation is
// serialized on the endpoint executor; the reply is awaited here so the
// transport can write it back.
func (e *LocalEndpoint) dispatch(ctx context.Context, env *transport.Envelope) ([]byte, error) {
	h, ok := e.handlers.Load(handlerKey{env.Topic, env.ClusterID, env.ProtocolID})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, env.Topic)
	}

	out := future.New[[]byte]()

	if err := e.exec.Submit(func() {
		h(ctx, env.Payload).WhenDone(func(data []byte, err error) {
			if err != nil {
				out.Fail(err)
				return
			}

			out.Complete(data)
		})
	}); err != nil {
		return nil, err
	}

	return out.Wait(ctx)
}

func (e *LocalEndpoint) Send(ctx context.Context, topic string, clusterID, protocolID uint32, req, resp any, ser serializer.Serializer) *future.Future[future.Void] {
	out := future.New[future.Void]()

	h, ok := e.handlers.Load(handlerKey{topic, clusterID, protocolID})
	if !ok {
		return future.Failed[future.Void](fmt.Errorf("%w: %s", ErrNoHandler, topic))
	}

	data, err := ser.Marshal(req)
	if err != nil {
		return future.Failed[future.Void](err)
	}

	if err := e.exec.Submit(func() {
		h(ctx, data).WhenDone(func(payload []byte, err error) {
			if err != nil {
				out.Fail(err)
				return
			}

			if err := ser.Unmarshal(payload, resp); err != nil {
				out.Fail(err)
				return
			}

			out.Complete(future.Void{})
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}
