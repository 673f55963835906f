package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/transport"
)

var errBadConfig = errors.New("invalid coordinator config")

// Config is everything a coordinator needs to know about its cluster. The
// coordinator deep-copies it at construction; later mutations by the
// caller have no effect.
type Config struct {
	// LocalURI is the address of this node.
	LocalURI string

	// Members is the set of configured active members forming the global
	// quorum. The local URI may or may not be on the list: when it is
	// not, the node participates passively.
	Members []string

	// Transport carries all inter-member traffic.
	Transport transport.Transport

	// ElectionTimeout and HeartbeatInterval tune the global raft group
	// and are inherited by resources that do not override them.
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration

	// Executor is where user-facing callbacks run. One is created when
	// nil.
	Executor *executor.Executor

	Clock  clock.Clock
	Logger log.Logger
}

func (c Config) copy() Config {
	c.Members = append([]string(nil), c.Members...)
	return c
}

func (c Config) withDefaults() Config {
	c = c.copy()

	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = raft.DefaultElectionTimeout
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = raft.DefaultHeartbeatInterval
	}

	if c.Executor == nil {
		c.Executor = executor.New("external")
	}

	if c.Clock == nil {
		c.Clock = clock.New()
	}

	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}

	return c
}

func (c Config) validate() error {
	if c.LocalURI == "" {
		return fmt.Errorf("%w: local uri is not set", errBadConfig)
	}

	if c.Transport == nil {
		return fmt.Errorf("%w: transport is not set", errBadConfig)
	}

	return nil
}
