package raft

import (
	"math/rand"
	"time"

	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/future"
)

// resetElectionTimer schedules (or reschedules) the inactivity timeout
// that kicks off an election. The timeout is randomized to keep members
// from campaigning in lockstep.
func (c *Context) resetElectionTimer() {
	c.stopElectionTimer()

	timeout := c.conf.ElectionTimeout
	timeout += time.Duration(rand.Int63n(int64(timeout)))

	c.electionTimer = c.clock.AfterFunc(timeout, func() {
		_ = c.exec.Submit(c.onElectionTimeout)
	})
}

func (c *Context) stopElectionTimer() {
	if c.electionTimer != nil {
		c.electionTimer.Stop()
		c.electionTimer = nil
	}
}

func (c *Context) onElectionTimeout() {
	if !c.isOpenLocked() || !c.active || c.role == RoleLeader {
		return
	}

	c.startPoll()
	c.resetElectionTimer()
}

// startPoll runs the pre-vote round: peers are asked whether they would
// accept an election at term+1. Only a majority of acceptances moves the
// member to an actual election, so a partitioned member cannot inflate
// terms for the healthy side.
func (c *Context) startPoll() {
	send := c.pollSender()
	if send == nil {
		return
	}

	c.round++
	c.polls = 1 // our own

	round := c.round
	lastIndex, lastTerm := c.lastLogInfo()

	if c.polls >= c.quorum() {
		c.startElection()
		return
	}

	level.Debug(c.logger).Log("msg", "polling peers", "term", c.term+1)

	for uri := range c.peers {
		req := &PollRequest{
			URI:       uri,
			Sender:    c.localURI,
			Term:      c.term + 1,
			LastIndex: lastIndex,
			LastTerm:  lastTerm,
		}

		send(req).WhenDone(func(resp *PollResponse, err error) {
			_ = c.exec.Submit(func() {
				if err != nil || round != c.round || c.role == RoleLeader {
					return
				}

				if resp.Accepted {
					c.polls++

					if c.polls == c.quorum() {
						c.startElection()
					}
				}
			})
		})
	}
}

// startElection campaigns for leadership at a fresh term.
func (c *Context) startElection() {
	send := c.voteSender()
	if send == nil {
		return
	}

	c.setTerm(c.term + 1)
	c.setRole(RoleCandidate)
	c.votedFor = c.localURI
	c.votes = 1 // our own
	c.round++

	round := c.round
	term := c.term
	lastIndex, lastTerm := c.lastLogInfo()

	level.Debug(c.logger).Log("msg", "starting election", "term", term)

	if c.votes >= c.quorum() {
		c.becomeLeader()
		return
	}

	for uri := range c.peers {
		req := &VoteRequest{
			URI:       uri,
			Sender:    c.localURI,
			Term:      term,
			LastIndex: lastIndex,
			LastTerm:  lastTerm,
		}

		send(req).WhenDone(func(resp *VoteResponse, err error) {
			_ = c.exec.Submit(func() {
				if err != nil || round != c.round {
					return
				}

				if c.role != RoleCandidate || c.term != term {
					return
				}

				if resp.Term > c.term {
					c.stepDown(resp.Term)
					return
				}

				if resp.Granted {
					c.votes++

					if c.votes == c.quorum() {
						c.becomeLeader()
					}
				}
			})
		})
	}
}

// quorum is the majority of the voting replica set, local member included.
func (c *Context) quorum() int {
	return (len(c.peers)+1)/2 + 1
}

func (c *Context) becomeLeader() {
	c.stopElectionTimer()
	c.setRole(RoleLeader)
	c.setLeader(c.localURI)

	lastIndex := c.log.LastIndex()
	for _, peer := range c.peers {
		peer.nextIndex = lastIndex + 1
		peer.matchIndex = 0
	}

	level.Info(c.logger).Log("msg", "became leader", "term", c.term)

	c.startHeartbeatLoop()
	c.broadcastAppend()
	c.advanceCommit()
}

// OnPoll answers a pre-vote. Polls mutate nothing: the answer only tells
// the candidate whether a real election would be worth starting.
func (c *Context) OnPoll(req *PollRequest) *future.Future[*PollResponse] {
	out := future.New[*PollResponse]()

	if err := c.exec.Submit(func() {
		accepted := c.isOpenLocked() &&
			req.Term >= c.term &&
			c.logUpToDate(req.LastIndex, req.LastTerm)

		out.Complete(&PollResponse{
			Term:     c.term,
			Accepted: accepted,
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

// OnVote casts a vote if the candidate's term is current and its log is at
// least as complete as ours, and we have not voted for anyone else this
// term.
func (c *Context) OnVote(req *VoteRequest) *future.Future[*VoteResponse] {
	out := future.New[*VoteResponse]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Complete(&VoteResponse{Term: c.term, Granted: false})
			return
		}

		if req.Term > c.term {
			c.stepDown(req.Term)
		}

		granted := req.Term == c.term &&
			(c.votedFor == "" || c.votedFor == req.Sender) &&
			c.logUpToDate(req.LastIndex, req.LastTerm)

		if granted {
			c.votedFor = req.Sender

			if c.active {
				c.resetElectionTimer()
			}
		}

		out.Complete(&VoteResponse{
			Term:    c.term,
			Granted: granted,
		})
	}); err != nil {
		out.Fail(err)
	}

	return out
}
