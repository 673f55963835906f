package resource

import (
	"time"

	"github.com/maxpoletaev/cohort/serializer"
)

// Config describes one replicated resource. Zero values inherit the
// coordinator-wide defaults.
type Config struct {
	// Kind is the concrete resource type to instantiate.
	Kind Kind

	// Serializer overrides the wire encoding for this resource's raft
	// group.
	Serializer serializer.Serializer

	// Replicas restricts the resource's quorum to a subset of the
	// cluster members. Empty means all configured members.
	Replicas []string

	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// Copy returns a structural clone, so that a config held by a resource
// cannot be mutated from the outside afterwards.
func (c Config) Copy() Config {
	c.Replicas = append([]string(nil), c.Replicas...)
	return c
}
