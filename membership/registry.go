package membership

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Registry is the concurrent uri-to-endpoint mapping shared between the
// coordinator and its clusters. The local endpoint is pinned: Remove
// silently refuses to drop it.
type Registry struct {
	mut     sync.RWMutex
	members map[string]Endpoint
	local   *LocalEndpoint
}

func NewRegistry(local *LocalEndpoint) *Registry {
	members := make(map[string]Endpoint, 8)
	members[local.URI()] = local

	return &Registry{
		members: members,
		local:   local,
	}
}

// Local returns the endpoint of the node itself.
func (r *Registry) Local() *LocalEndpoint {
	return r.local
}

// Get returns the endpoint for the URI, or nil if the member is unknown.
func (r *Registry) Get(uri string) Endpoint {
	r.mut.RLock()
	defer r.mut.RUnlock()

	return r.members[uri]
}

// Has reports whether the URI is a known member.
func (r *Registry) Has(uri string) bool {
	r.mut.RLock()
	defer r.mut.RUnlock()

	_, ok := r.members[uri]

	return ok
}

// Add inserts an endpoint unless one is already registered for the URI.
// Reports whether the endpoint was inserted.
func (r *Registry) Add(endpoint Endpoint) bool {
	r.mut.Lock()
	defer r.mut.Unlock()

	if _, ok := r.members[endpoint.URI()]; ok {
		return false
	}

	r.members[endpoint.URI()] = endpoint

	return true
}

// Remove drops the member with the given URI. The local member is never
// removed.
func (r *Registry) Remove(uri string) {
	if uri == r.local.URI() {
		return
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	delete(r.members, uri)
}

// Snapshot returns the current set of endpoints.
func (r *Registry) Snapshot() []Endpoint {
	r.mut.RLock()
	defer r.mut.RUnlock()

	return maps.Values(r.members)
}

// URIs returns the current set of member URIs.
func (r *Registry) URIs() []string {
	r.mut.RLock()
	defer r.mut.RUnlock()

	return maps.Keys(r.members)
}

// Len returns the number of known members.
func (r *Registry) Len() int {
	r.mut.RLock()
	defer r.mut.RUnlock()

	return len(r.members)
}

type statusSetter interface {
	SetStatus(Status)
}

// SetStatus updates the recorded health of a member, if it supports
// status changes. The local member is always alive.
func (r *Registry) SetStatus(uri string, status Status) {
	if endpoint := r.Get(uri); endpoint != nil {
		if setter, ok := endpoint.(statusSetter); ok {
			setter.SetStatus(status)
		}
	}
}
