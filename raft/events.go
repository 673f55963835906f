package raft

// LeaderChangeEvent is delivered to leader listeners whenever the locally
// known leader changes. NewLeader is empty when leadership is lost without
// a successor being known yet.
type LeaderChangeEvent struct {
	OldLeader string
	NewLeader string
}

// ViewChange describes a membership view mutation detected by the sync
// exchange: a URI previously unknown appeared (joined) or stopped
// responding for long enough to be pronounced dead (left).
type ViewChange struct {
	URI    string
	Joined bool
}
