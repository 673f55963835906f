package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/serializer"
)

var (
	// ErrInvalidMember is returned for outbound requests addressed to a
	// URI that is not a known member at send time.
	ErrInvalidMember = errors.New("invalid member uri")
)

// Router binds a raft protocol to a cluster: inbound, it installs a
// handler for each of the six topics on the local member; outbound, it
// points the protocol's handler slots at the member send primitive.
//
// CreateRoutes must complete before the protocol opens, or early messages
// find no handler. DestroyRoutes must follow the protocol's close, or
// handlers leak past shutdown.
type Router struct {
	ser  serializer.Serializer
	exec *executor.Executor
}

func NewRouter(ser serializer.Serializer, exec *executor.Executor) *Router {
	return &Router{
		ser:  ser,
		exec: exec,
	}
}

// CreateRoutes installs the six topic handlers and connects the six
// outbound slots.
func (r *Router) CreateRoutes(cl *Manager, protocol raft.Protocol) {
	local := cl.localEndpoint()

	registerInbound(r, local, cl.id, TopicSync, protocol.OnSync)
	registerInbound(r, local, cl.id, TopicPoll, protocol.OnPoll)
	registerInbound(r, local, cl.id, TopicVote, protocol.OnVote)
	registerInbound(r, local, cl.id, TopicAppend, protocol.OnAppend)
	registerInbound(r, local, cl.id, TopicQuery, protocol.OnQuery)
	registerInbound(r, local, cl.id, TopicCommit, protocol.OnCommit)

	protocol.SyncHandler(outbound[*raft.SyncRequest, raft.SyncResponse](r, cl, TopicSync))
	protocol.PollHandler(outbound[*raft.PollRequest, raft.PollResponse](r, cl, TopicPoll))
	protocol.VoteHandler(outbound[*raft.VoteRequest, raft.VoteResponse](r, cl, TopicVote))
	protocol.AppendHandler(outbound[*raft.AppendRequest, raft.AppendResponse](r, cl, TopicAppend))
	protocol.QueryHandler(outbound[*raft.QueryRequest, raft.QueryResponse](r, cl, TopicQuery))
	protocol.CommitHandler(outbound[*raft.CommitRequest, raft.CommitResponse](r, cl, TopicCommit))
}

// DestroyRoutes removes the topic handlers and disconnects the outbound
// slots. Once it returns, the protocol can neither receive nor emit
// messages through this cluster.
func (r *Router) DestroyRoutes(cl *Manager, protocol raft.Protocol) {
	local := cl.localEndpoint()

	local.UnregisterHandler(string(TopicSync), cl.id, ProtocolID)
	local.UnregisterHandler(string(TopicPoll), cl.id, ProtocolID)
	local.UnregisterHandler(string(TopicVote), cl.id, ProtocolID)
	local.UnregisterHandler(string(TopicAppend), cl.id, ProtocolID)
	local.UnregisterHandler(string(TopicQuery), cl.id, ProtocolID)
	local.UnregisterHandler(string(TopicCommit), cl.id, ProtocolID)

	protocol.SyncHandler(nil)
	protocol.PollHandler(nil)
	protocol.VoteHandler(nil)
	protocol.AppendHandler(nil)
	protocol.QueryHandler(nil)
	protocol.CommitHandler(nil)
}

// registerInbound wires one topic to one protocol method: deserialize the
// request, invoke the method on the cluster executor, serialize whatever
// comes back.
func registerInbound[Req, Resp any](r *Router, local *membership.LocalEndpoint, clusterID uint32, topic Topic, fn func(*Req) *future.Future[*Resp]) {
	local.RegisterHandler(string(topic), clusterID, ProtocolID, func(ctx context.Context, data []byte) *future.Future[[]byte] {
		req := new(Req)
		if err := r.ser.Unmarshal(data, req); err != nil {
			return future.Failed[[]byte](fmt.Errorf("unmarshal %s request: %w", topic, err))
		}

		out := future.New[[]byte]()

		if err := r.exec.Submit(func() {
			fn(req).WhenDone(func(resp *Resp, err error) {
				if err != nil {
					out.Fail(err)
					return
				}

				data, err := r.ser.Marshal(resp)
				if err != nil {
					out.Fail(fmt.Errorf("marshal %s response: %w", topic, err))
					return
				}

				out.Complete(data)
			})
		}); err != nil {
			out.Fail(err)
		}

		return out
	})
}

// outbound produces the send function for one topic. The target member is
// resolved at send time: requests to URIs that are no longer (or not yet)
// members fail fast instead of touching the transport.
func outbound[Req raft.Request, Resp any](r *Router, cl *Manager, topic Topic) func(Req) *future.Future[*Resp] {
	return func(req Req) *future.Future[*Resp] {
		member := cl.Member(req.Target())
		if member == nil {
			return future.Failed[*Resp](fmt.Errorf("%w: %s", ErrInvalidMember, req.Target()))
		}

		resp := new(Resp)
		sent := member.Send(context.Background(), topic, ProtocolID, req, resp)

		return future.Then(sent, func(future.Void) *Resp {
			return resp
		})
	}
}
