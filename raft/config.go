package raft

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"

	"github.com/maxpoletaev/cohort/raftlog"
)

const (
	DefaultElectionTimeout   = 500 * time.Millisecond
	DefaultHeartbeatInterval = 125 * time.Millisecond
)

// Config carries the tunables of a single raft instance.
type Config struct {
	// ElectionTimeout is the base follower inactivity timeout. The
	// effective timeout is randomized within [timeout, 2*timeout).
	ElectionTimeout time.Duration

	// HeartbeatInterval is how often the leader broadcasts appends and
	// every member exchanges its membership view.
	HeartbeatInterval time.Duration

	// Replicas is the set of member URIs forming the voting quorum. A
	// member whose URI is not on the list participates passively: it
	// tracks membership and the leader but never votes. An empty list
	// means the local member alone.
	Replicas []string

	// Log is the buffered entry log. A fresh one is created when nil.
	Log *raftlog.Log

	Clock  clock.Clock
	Logger log.Logger
}

func (c Config) withDefaults() Config {
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = DefaultElectionTimeout
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if c.Log == nil {
		c.Log = raftlog.New()
	}

	if c.Clock == nil {
		c.Clock = clock.New()
	}

	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}

	c.Replicas = append([]string(nil), c.Replicas...)

	return c
}
