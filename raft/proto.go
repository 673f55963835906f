package raft

import (
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/raftlog"
)

// Request is implemented by all protocol requests. Every request carries
// the URI of the member it is addressed to, which the routing layer uses to
// pick the endpoint.
type Request interface {
	Target() string
}

// SyncRequest carries the sender's membership view. Peers exchange these
// periodically so that joins propagate and unresponsive members get
// detected on every node independently.
type SyncRequest struct {
	URI     string
	Sender  string
	Term    uint64
	Leader  string
	Members []string
}

func (r *SyncRequest) Target() string { return r.URI }

type SyncResponse struct {
	Term    uint64
	Leader  string
	Members []string
}

// PollRequest is the pre-vote: a member asks its peers whether an election
// with the given term would succeed, without disturbing the current one.
type PollRequest struct {
	URI       string
	Sender    string
	Term      uint64
	LastIndex uint64
	LastTerm  uint64
}

func (r *PollRequest) Target() string { return r.URI }

type PollResponse struct {
	Term     uint64
	Accepted bool
}

type VoteRequest struct {
	URI       string
	Sender    string
	Term      uint64
	LastIndex uint64
	LastTerm  uint64
}

func (r *VoteRequest) Target() string { return r.URI }

type VoteResponse struct {
	Term    uint64
	Granted bool
}

// AppendRequest replicates log entries and doubles as the leader heartbeat
// when Entries is empty.
type AppendRequest struct {
	URI         string
	Sender      string
	Term        uint64
	PrevIndex   uint64
	PrevTerm    uint64
	Entries     []raftlog.Entry
	CommitIndex uint64
}

func (r *AppendRequest) Target() string { return r.URI }

type AppendResponse struct {
	Term      uint64
	Succeeded bool
	LastIndex uint64
}

// QueryRequest reads from the replicated state machine. Queries are served
// by the leader; followers forward them.
type QueryRequest struct {
	URI     string
	Sender  string
	Payload []byte
}

func (r *QueryRequest) Target() string { return r.URI }

type QueryResponse struct {
	Payload []byte
}

// CommitRequest submits a command to the replicated state machine. Commands
// received by a follower are forwarded to the leader.
type CommitRequest struct {
	URI     string
	Sender  string
	Payload []byte
}

func (r *CommitRequest) Target() string { return r.URI }

type CommitResponse struct {
	Payload []byte
	Index   uint64
}

// Protocol is the surface the routing layer binds: six inbound methods and
// six outbound handler slots. Setting a handler to nil disconnects the
// corresponding outbound path.
type Protocol interface {
	OnSync(req *SyncRequest) *future.Future[*SyncResponse]
	OnPoll(req *PollRequest) *future.Future[*PollResponse]
	OnVote(req *VoteRequest) *future.Future[*VoteResponse]
	OnAppend(req *AppendRequest) *future.Future[*AppendResponse]
	OnQuery(req *QueryRequest) *future.Future[*QueryResponse]
	OnCommit(req *CommitRequest) *future.Future[*CommitResponse]

	SyncHandler(fn func(*SyncRequest) *future.Future[*SyncResponse])
	PollHandler(fn func(*PollRequest) *future.Future[*PollResponse])
	VoteHandler(fn func(*VoteRequest) *future.Future[*VoteResponse])
	AppendHandler(fn func(*AppendRequest) *future.Future[*AppendResponse])
	QueryHandler(fn func(*QueryRequest) *future.Future[*QueryResponse])
	CommitHandler(fn func(*CommitRequest) *future.Future[*CommitResponse])
}
