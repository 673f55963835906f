package raft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/raftlog"
)

var (
	ErrClosed    = errors.New("raft context is closed")
	ErrNoLeader  = errors.New("no known leader")
	ErrNotLeader = errors.New("not the leader")
)

// Role is the position a member currently holds within its raft group.
type Role uint8

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

type peerState struct {
	nextIndex  uint64
	matchIndex uint64
}

type memberView struct {
	failures int
}

var _ Protocol = (*Context)(nil)

// Context is a single raft protocol instance. The coordinator owns one per
// resource plus one for global membership. All protocol state lives on the
// context's executor: inbound requests, timer events and command
// submissions are serialized there, which is what makes the state machine
// single-threaded.
//
// The context is transport-agnostic. It talks to its peers exclusively
// through the six outbound handler slots, which the routing layer connects
// to member endpoints before the context opens.
type Context struct {
	name     string
	localURI string
	conf     Config
	exec     *executor.Executor
	log      *raftlog.Log
	clock    clock.Clock
	logger   log.Logger

	// Externally visible state, mirrored under mut. Writes happen on the
	// executor only.
	mut    sync.RWMutex
	role   Role
	term   uint64
	leader string
	opened bool

	// Guarded by exec.
	active      bool
	votedFor    string
	commitIndex uint64
	lastApplied uint64
	round       uint64
	votes       int
	polls       int
	peers       map[string]*peerState
	view        map[string]*memberView
	graves      map[string]struct{}
	pending     map[uint64]*future.Future[[]byte]

	applyFn func(cmd []byte) ([]byte, error)
	queryFn func(query []byte) ([]byte, error)
	viewFn  func(ViewChange)

	electionTimer *clock.Timer
	stopHeartbeat chan struct{}
	stopSync      chan struct{}

	lmut          sync.Mutex
	nextListener  int
	leaderWatches map[int]func(LeaderChangeEvent)

	smut       sync.RWMutex
	sendSync   func(*SyncRequest) *future.Future[*SyncResponse]
	sendPoll   func(*PollRequest) *future.Future[*PollResponse]
	sendVote   func(*VoteRequest) *future.Future[*VoteResponse]
	sendAppend func(*AppendRequest) *future.Future[*AppendResponse]
	sendQuery  func(*QueryRequest) *future.Future[*QueryResponse]
	sendCommit func(*CommitRequest) *future.Future[*CommitResponse]
}

// NewContext creates a raft instance named after its cluster. The context
// does nothing until Open is called.
func NewContext(name, localURI string, conf Config, exec *executor.Executor) *Context {
	conf = conf.withDefaults()

	return &Context{
		name:          name,
		localURI:      localURI,
		conf:          conf,
		exec:          exec,
		log:           conf.Log,
		clock:         conf.Clock,
		logger:        log.With(conf.Logger, "raft", name),
		peers:         make(map[string]*peerState),
		view:          make(map[string]*memberView),
		graves:        make(map[string]struct{}),
		pending:       make(map[uint64]*future.Future[[]byte]),
		leaderWatches: make(map[int]func(LeaderChangeEvent)),
	}
}

func (c *Context) Name() string {
	return c.name
}

// Executor returns the scheduler all protocol state advances on.
func (c *Context) Executor() *executor.Executor {
	return c.exec
}

// Log returns the underlying buffered log.
func (c *Context) Log() *raftlog.Log {
	return c.log
}

func (c *Context) IsOpen() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.opened
}

func (c *Context) Role() Role {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.role
}

func (c *Context) Term() uint64 {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.term
}

// Leader returns the URI of the member currently believed to be the
// leader, or an empty string when none is known.
func (c *Context) Leader() string {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.leader
}

func (c *Context) IsLeader() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.opened && c.role == RoleLeader
}

// SetStateMachine installs the function committed commands are applied
// through. Must be set before Open.
func (c *Context) SetStateMachine(fn func(cmd []byte) ([]byte, error)) {
	c.applyFn = fn
}

// SetQueryHandler installs the function leader-side queries are served by.
// Must be set before Open.
func (c *Context) SetQueryHandler(fn func(query []byte) ([]byte, error)) {
	c.queryFn = fn
}

// SetMembershipHandler installs the callback for membership view changes.
// Must be set before Open. The callback runs on the context executor.
func (c *Context) SetMembershipHandler(fn func(ViewChange)) {
	c.viewFn = fn
}

// OnLeaderChange registers a listener for leader changes and returns a
// function that removes it. Listeners run on the context executor.
func (c *Context) OnLeaderChange(fn func(LeaderChangeEvent)) func() {
	c.lmut.Lock()
	defer c.lmut.Unlock()

	id := c.nextListener
	c.nextListener++
	c.leaderWatches[id] = fn

	return func() {
		c.lmut.Lock()
		defer c.lmut.Unlock()

		delete(c.leaderWatches, id)
	}
}

// Open brings the context to life on its executor: the membership view is
// seeded with the configured replicas, timers start, and the member begins
// to participate in (or observe) the quorum.
func (c *Context) Open() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := c.exec.Submit(func() {
		if c.isOpenLocked() {
			out.Complete(future.Void{})
			return
		}

		replicas := c.conf.Replicas
		if len(replicas) == 0 {
			replicas = []string{c.localURI}
		}

		c.active = false
		c.peers = make(map[string]*peerState)
		c.view = make(map[string]*memberView)
		c.graves = make(map[string]struct{})

		for _, uri := range replicas {
			if uri == c.localURI {
				c.active = true
				continue
			}

			c.peers[uri] = &peerState{}
			c.view[uri] = &memberView{}
		}

		c.setOpened(true)
		c.setRole(RoleFollower)

		if c.active && len(c.peers) == 0 {
			// Single-member quorum: no one to ask for votes.
			c.setTerm(c.term + 1)
			c.becomeLeader()
		} else if c.active {
			c.resetElectionTimer()
		}

		c.startSyncLoop()

		level.Info(c.logger).Log(
			"msg", "raft context open",
			"uri", c.localURI,
			"active", c.active,
			"replicas", len(replicas),
		)

		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

// Close stops all timers and fails pending submissions. Idempotent.
func (c *Context) Close() *future.Future[future.Void] {
	out := future.New[future.Void]()

	if err := c.exec.Submit(func() {
		if !c.isOpenLocked() {
			out.Complete(future.Void{})
			return
		}

		c.stopElectionTimer()
		c.stopHeartbeatLoop()
		c.stopSyncLoop()

		for index, f := range c.pending {
			f.Fail(ErrClosed)
			delete(c.pending, index)
		}

		c.setOpened(false)
		c.setRole(RoleFollower)
		c.setLeader("")

		level.Info(c.logger).Log("msg", "raft context closed", "uri", c.localURI)
		out.Complete(future.Void{})
	}); err != nil {
		out.Fail(err)
	}

	return out
}

func (c *Context) isOpenLocked() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.opened
}

func (c *Context) setOpened(opened bool) {
	c.mut.Lock()
	c.opened = opened
	c.mut.Unlock()
}

func (c *Context) setRole(role Role) {
	c.mut.Lock()
	c.role = role
	c.mut.Unlock()
}

func (c *Context) setTerm(term uint64) {
	c.mut.Lock()
	c.term = term
	c.mut.Unlock()
}

// setLeader records the new leader and notifies listeners if it changed.
func (c *Context) setLeader(uri string) {
	c.mut.Lock()

	old := c.leader
	if old == uri {
		c.mut.Unlock()
		return
	}

	c.leader = uri
	c.mut.Unlock()

	level.Info(c.logger).Log("msg", "leader changed", "old", old, "new", uri)

	c.lmut.Lock()
	watches := make([]func(LeaderChangeEvent), 0, len(c.leaderWatches))
	for _, fn := range c.leaderWatches {
		watches = append(watches, fn)
	}
	c.lmut.Unlock()

	for _, fn := range watches {
		fn(LeaderChangeEvent{OldLeader: old, NewLeader: uri})
	}
}

// stepDown adopts a higher term observed in the wild and reverts to
// follower.
func (c *Context) stepDown(term uint64) {
	if term > c.term {
		c.setTerm(term)
		c.votedFor = ""
	}

	if c.role == RoleLeader {
		c.stopHeartbeatLoop()
	}

	c.setRole(RoleFollower)

	if c.active {
		c.resetElectionTimer()
	}
}

// SyncHandler and friends connect the outbound paths. The routing layer is
// the only caller: it sets the handlers before the context opens and
// clears them with nil after it closes.
func (c *Context) SyncHandler(fn func(*SyncRequest) *future.Future[*SyncResponse]) {
	c.smut.Lock()
	c.sendSync = fn
	c.smut.Unlock()
}

func (c *Context) PollHandler(fn func(*PollRequest) *future.Future[*PollResponse]) {
	c.smut.Lock()
	c.sendPoll = fn
	c.smut.Unlock()
}

func (c *Context) VoteHandler(fn func(*VoteRequest) *future.Future[*VoteResponse]) {
	c.smut.Lock()
	c.sendVote = fn
	c.smut.Unlock()
}

func (c *Context) AppendHandler(fn func(*AppendRequest) *future.Future[*AppendResponse]) {
	c.smut.Lock()
	c.sendAppend = fn
	c.smut.Unlock()
}

func (c *Context) QueryHandler(fn func(*QueryRequest) *future.Future[*QueryResponse]) {
	c.smut.Lock()
	c.sendQuery = fn
	c.smut.Unlock()
}

func (c *Context) CommitHandler(fn func(*CommitRequest) *future.Future[*CommitResponse]) {
	c.smut.Lock()
	c.sendCommit = fn
	c.smut.Unlock()
}

func (c *Context) syncSender() func(*SyncRequest) *future.Future[*SyncResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendSync
}

func (c *Context) pollSender() func(*PollRequest) *future.Future[*PollResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendPoll
}

func (c *Context) voteSender() func(*VoteRequest) *future.Future[*VoteResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendVote
}

func (c *Context) appendSender() func(*AppendRequest) *future.Future[*AppendResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendAppend
}

func (c *Context) querySender() func(*QueryRequest) *future.Future[*QueryResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendQuery
}

func (c *Context) commitSender() func(*CommitRequest) *future.Future[*CommitResponse] {
	c.smut.RLock()
	defer c.smut.RUnlock()

	return c.sendCommit
}

// lastLogInfo returns the index and term of the log tail.
func (c *Context) lastLogInfo() (uint64, uint64) {
	return c.log.LastIndex(), c.log.LastTerm()
}

// logUpToDate tells whether a candidate's log is at least as complete as
// ours, per the raft voting rule.
func (c *Context) logUpToDate(lastIndex, lastTerm uint64) bool {
	ourIndex, ourTerm := c.lastLogInfo()

	if lastTerm != ourTerm {
		return lastTerm > ourTerm
	}

	return lastIndex >= ourIndex
}

// apply runs a committed command through the state machine.
func (c *Context) apply(entry raftlog.Entry) ([]byte, error) {
	if c.applyFn == nil {
		return nil, nil
	}

	return c.applyFn(entry.Command)
}
