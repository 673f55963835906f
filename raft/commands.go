package raft

import (
	"github.com/maxpoletaev/cohort/internal/future"
)

// Submit runs a command through the replicated log. On the leader the
// command is appended and the future resolves with the state machine's
// result once the entry commits. Elsewhere the command is forwarded to the
// leader, or fails with ErrNoLeader when none is known.
func (c *Context) Submit(cmd []byte) *future.Future[[]byte] {
	out := future.New[[]byte]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		if c.role == RoleLeader {
			c.submitLocal(cmd, out)
			return
		}

		c.forwardCommit(cmd, out)
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (c *Context) submitLocal(cmd []byte, out *future.Future[[]byte]) {
	index := c.log.Append(c.term, cmd)
	c.pending[index] = out

	if len(c.peers) == 0 {
		c.advanceCommit()
		return
	}

	c.broadcastAppend()
}

func (c *Context) forwardCommit(cmd []byte, out *future.Future[[]byte]) {
	send := c.commitSender()
	leader := c.Leader()

	if send == nil || leader == "" {
		out.Fail(ErrNoLeader)
		return
	}

	req := &CommitRequest{
		URI:     leader,
		Sender:  c.localURI,
		Payload: cmd,
	}

	send(req).WhenDone(func(resp *CommitResponse, err error) {
		if err != nil {
			out.Fail(err)
			return
		}

		out.Complete(resp.Payload)
	})
}

// Query reads from the state machine. Reads are serialized through the
// leader so they observe all committed writes.
func (c *Context) Query(query []byte) *future.Future[[]byte] {
	out := future.New[[]byte]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		if c.role == RoleLeader {
			c.queryLocal(query, out)
			return
		}

		c.forwardQuery(query, out)
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (c *Context) queryLocal(query []byte, out *future.Future[[]byte]) {
	if c.queryFn == nil {
		out.Complete(nil)
		return
	}

	result, err := c.queryFn(query)
	if err != nil {
		out.Fail(err)
		return
	}

	out.Complete(result)
}

func (c *Context) forwardQuery(query []byte, out *future.Future[[]byte]) {
	send := c.querySender()
	leader := c.Leader()

	if send == nil || leader == "" {
		out.Fail(ErrNoLeader)
		return
	}

	req := &QueryRequest{
		URI:     leader,
		Sender:  c.localURI,
		Payload: query,
	}

	send(req).WhenDone(func(resp *QueryResponse, err error) {
		if err != nil {
			out.Fail(err)
			return
		}

		out.Complete(resp.Payload)
	})
}

// OnCommit accepts a command forwarded by another member. Only the leader
// serves it; re-forwarding is left to the original submitter to avoid
// routing loops.
func (c *Context) OnCommit(req *CommitRequest) *future.Future[*CommitResponse] {
	out := future.New[*CommitResponse]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		if c.role != RoleLeader {
			out.Fail(ErrNotLeader)
			return
		}

		inner := future.New[[]byte]()
		c.submitLocal(req.Payload, inner)

		index := c.log.LastIndex()

		inner.WhenDone(func(result []byte, err error) {
			if err != nil {
				out.Fail(err)
				return
			}

			out.Complete(&CommitResponse{
				Payload: result,
				Index:   index,
			})
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

// OnQuery serves a read forwarded by another member.
func (c *Context) OnQuery(req *QueryRequest) *future.Future[*QueryResponse] {
	out := future.New[*QueryResponse]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		if c.role != RoleLeader {
			out.Fail(ErrNotLeader)
			return
		}

		inner := future.New[[]byte]()
		c.queryLocal(req.Payload, inner)

		inner.WhenDone(func(result []byte, err error) {
			if err != nil {
				out.Fail(err)
				return
			}

			out.Complete(&QueryResponse{Payload: result})
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}
