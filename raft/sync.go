package raft

import (
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/future"
)

// startSyncLoop begins the periodic membership view exchange. Every member
// runs it, leader or not: each node decides for itself which peers are
// gone, so the cluster does not depend on the leader to notice failures.
func (c *Context) startSyncLoop() {
	if c.stopSync != nil {
		return
	}

	stop := make(chan struct{})
	c.stopSync = stop

	ticker := c.clock.Ticker(c.conf.HeartbeatInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = c.exec.Submit(c.syncTick)
			case <-stop:
				return
			}
		}
	}()
}

func (c *Context) stopSyncLoop() {
	if c.stopSync != nil {
		close(c.stopSync)
		c.stopSync = nil
	}
}

// deadThreshold is how many consecutive failed sync rounds it takes to
// pronounce a member dead. Tuned so that detection happens within about
// one election timeout.
func (c *Context) deadThreshold() int {
	n := int(c.conf.ElectionTimeout / c.conf.HeartbeatInterval)
	if n < 2 {
		n = 2
	}

	return n
}

func (c *Context) syncTick() {
	if !c.isOpenLocked() {
		return
	}

	send := c.syncSender()
	if send == nil {
		return
	}

	members := c.viewURIs()

	for uri := range c.view {
		peer := uri

		req := &SyncRequest{
			URI:     peer,
			Sender:  c.localURI,
			Term:    c.term,
			Leader:  c.Leader(),
			Members: members,
		}

		send(req).WhenDone(func(resp *SyncResponse, err error) {
			_ = c.exec.Submit(func() {
				v, ok := c.view[peer]
				if !ok {
					return
				}

				if err != nil {
					v.failures++

					if v.failures >= c.deadThreshold() {
						c.dropMember(peer)
					}

					return
				}

				v.failures = 0

				if resp.Term > c.term {
					c.stepDown(resp.Term)
				}

				if resp.Leader != "" && resp.Term >= c.term && c.role != RoleLeader {
					c.setLeader(resp.Leader)
				}

				c.mergeView(resp.Members)
			})
		})
	}
}

// viewURIs lists every member this node knows about, itself included.
func (c *Context) viewURIs() []string {
	uris := make([]string, 0, len(c.view)+1)
	uris = append(uris, c.localURI)

	for uri := range c.view {
		uris = append(uris, uri)
	}

	return uris
}

// mergeView adds members from a received view that we have not seen yet.
// Members this node has pronounced dead are not resurrected by hearsay:
// only direct contact through noteAlive clears the grave. Without this,
// peers that have not yet noticed a death keep re-introducing it.
func (c *Context) mergeView(uris []string) {
	for _, uri := range uris {
		if uri == c.localURI {
			continue
		}

		if _, buried := c.graves[uri]; buried {
			continue
		}

		if _, ok := c.view[uri]; !ok {
			c.addMember(uri)
		}
	}
}

// noteAlive resets the failure counter of a member we have just heard
// from, re-admitting it if it was pronounced dead earlier.
func (c *Context) noteAlive(uri string) {
	if uri == c.localURI {
		return
	}

	if v, ok := c.view[uri]; ok {
		v.failures = 0
		return
	}

	c.addMember(uri)
}

func (c *Context) addMember(uri string) {
	c.view[uri] = &memberView{}
	delete(c.graves, uri)

	level.Debug(c.logger).Log("msg", "member joined view", "uri", uri)

	if c.viewFn != nil {
		c.viewFn(ViewChange{URI: uri, Joined: true})
	}
}

func (c *Context) dropMember(uri string) {
	delete(c.view, uri)
	c.graves[uri] = struct{}{}

	level.Info(c.logger).Log("msg", "member left view", "uri", uri)

	if c.viewFn != nil {
		c.viewFn(ViewChange{URI: uri, Joined: false})
	}
}

// OnSync merges the sender's membership view into ours and answers with
// the merged view.
func (c *Context) OnSync(req *SyncRequest) *future.Future[*SyncResponse] {
	out := future.New[*SyncResponse]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Fail(ErrClosed)
			return
		}

		c.noteAlive(req.Sender)

		if req.Term > c.term {
			c.stepDown(req.Term)
		}

		if req.Leader != "" && req.Term >= c.term && c.role != RoleLeader {
			c.setLeader(req.Leader)
		}

		c.mergeView(req.Members)

		out.Complete(&SyncResponse{
			Term:    c.term,
			Leader:  c.Leader(),
			Members: c.viewURIs(),
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}
