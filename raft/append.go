package raft

import (
	"errors"

	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/raftlog"
)

// startHeartbeatLoop runs the leader's append broadcast on every heartbeat
// interval until leadership is lost.
func (c *Context) startHeartbeatLoop() {
	if c.stopHeartbeat != nil {
		return
	}

	stop := make(chan struct{})
	c.stopHeartbeat = stop

	ticker := c.clock.Ticker(c.conf.HeartbeatInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = c.exec.Submit(func() {
					if c.role == RoleLeader {
						c.broadcastAppend()
					}
				})
			case <-stop:
				return
			}
		}
	}()
}

func (c *Context) stopHeartbeatLoop() {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

// broadcastAppend sends every peer the log suffix it is missing, or an
// empty heartbeat when it is caught up.
func (c *Context) broadcastAppend() {
	send := c.appendSender()
	if send == nil {
		return
	}

	term := c.term

	for uri, peer := range c.peers {
		prevIndex := peer.nextIndex - 1

		prevTerm, err := c.log.Term(prevIndex)
		if err != nil {
			// The peer is behind the compaction horizon; restart it from
			// whatever we still retain.
			peer.nextIndex = c.log.FirstIndex()
			continue
		}

		entries, err := c.log.Slice(peer.nextIndex)
		if err != nil {
			peer.nextIndex = c.log.FirstIndex()
			continue
		}

		req := &AppendRequest{
			URI:         uri,
			Sender:      c.localURI,
			Term:        term,
			PrevIndex:   prevIndex,
			PrevTerm:    prevTerm,
			Entries:     entries,
			CommitIndex: c.commitIndex,
		}

		sent := uint64(len(entries))

		send(req).WhenDone(func(resp *AppendResponse, err error) {
			_ = c.exec.Submit(func() {
				c.handleAppendReply(uri, prevIndex, sent, term, resp, err)
			})
		})
	}
}

func (c *Context) handleAppendReply(uri string, prevIndex, sent, term uint64, resp *AppendResponse, err error) {
	peer, ok := c.peers[uri]
	if !ok || c.role != RoleLeader || c.term != term {
		return
	}

	if err != nil {
		return // the next heartbeat retries
	}

	if resp.Term > c.term {
		c.stepDown(resp.Term)
		return
	}

	if resp.Succeeded {
		match := prevIndex + sent
		if match > peer.matchIndex {
			peer.matchIndex = match
		}

		peer.nextIndex = peer.matchIndex + 1
		c.advanceCommit()

		return
	}

	// Log mismatch: back off towards the peer's actual tail.
	next := peer.nextIndex - 1
	if resp.LastIndex+1 < next {
		next = resp.LastIndex + 1
	}

	if next < 1 {
		next = 1
	}

	peer.nextIndex = next
}

// advanceCommit moves the commit index to the highest entry of the current
// term that is replicated on a majority.
func (c *Context) advanceCommit() {
	lastIndex := c.log.LastIndex()

	for index := c.commitIndex + 1; index <= lastIndex; index++ {
		term, err := c.log.Term(index)
		if err != nil || term != c.term {
			continue
		}

		replicated := 1 // our own copy
		for _, peer := range c.peers {
			if peer.matchIndex >= index {
				replicated++
			}
		}

		if replicated >= c.quorum() {
			c.commitIndex = index
		}
	}

	c.applyCommitted()
}

// applyCommitted feeds newly committed entries to the state machine and
// resolves the submission futures waiting on them.
func (c *Context) applyCommitted() {
	for c.lastApplied < c.commitIndex {
		entry, err := c.log.Entry(c.lastApplied + 1)
		if err != nil {
			level.Error(c.logger).Log("msg", "missing committed entry", "index", c.lastApplied+1, "err", err)
			return
		}

		result, err := c.apply(entry)
		c.lastApplied = entry.Index

		if f, ok := c.pending[entry.Index]; ok {
			delete(c.pending, entry.Index)

			if err != nil {
				f.Fail(err)
			} else {
				f.Complete(result)
			}
		}
	}
}

// OnAppend handles replication and heartbeats from the leader.
func (c *Context) OnAppend(req *AppendRequest) *future.Future[*AppendResponse] {
	out := future.New[*AppendResponse]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		if req.Term < c.term {
			out.Complete(&AppendResponse{
				Term:      c.term,
				Succeeded: false,
				LastIndex: c.log.LastIndex(),
			})

			return
		}

		// A current-term append settles who the leader is.
		if req.Term > c.term || c.role != RoleFollower {
			c.stepDown(req.Term)
		}

		c.setLeader(req.Sender)
		c.noteAlive(req.Sender)

		if c.active {
			c.resetElectionTimer()
		}

		if req.PrevIndex > 0 {
			term, err := c.log.Term(req.PrevIndex)
			if err != nil || term != req.PrevTerm {
				out.Complete(&AppendResponse{
					Term:      c.term,
					Succeeded: false,
					LastIndex: c.log.LastIndex(),
				})

				return
			}
		}

		if err := c.appendEntries(req.Entries); err != nil {
			out.Fail(err)
			return
		}

		if req.CommitIndex > c.commitIndex {
			commit := req.CommitIndex
			if last := c.log.LastIndex(); commit > last {
				commit = last
			}

			c.commitIndex = commit
			c.applyCommitted()
		}

		out.Complete(&AppendResponse{
			Term:      c.term,
			Succeeded: true,
			LastIndex: c.log.LastIndex(),
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

// appendEntries reconciles the leader's entries with the local log,
// truncating on the first conflict.
func (c *Context) appendEntries(entries []raftlog.Entry) error {
	for i, entry := range entries {
		existing, err := c.log.Term(entry.Index)

		switch {
		case errors.Is(err, raftlog.ErrOutOfRange):
			// Everything from here on is new.
			c.log.AppendEntries(entries[i:]...)
			return nil
		case err != nil:
			return err
		case existing != entry.Term:
			if err := c.log.Truncate(entry.Index); err != nil {
				return err
			}

			c.log.AppendEntries(entries[i:]...)

			return nil
		}
	}

	return nil
}
