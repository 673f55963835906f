package resource

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrConfiguration covers everything that makes a resource impossible
	// to build: unknown kinds, replica sets that are not a subset of the
	// cluster members, and so on.
	ErrConfiguration = errors.New("resource configuration error")
)

// Resource is a named replicated object backed by its own raft group.
// Concrete kinds expose their own typed operations on top of this.
type Resource interface {
	Name() string
}

// Kind selects the concrete resource implementation. The set is closed:
// construction is dispatched through a factory table, and unknown kinds
// fail with ErrConfiguration.
type Kind string

const (
	KindAtomicBool      Kind = "atomic-bool"
	KindAtomicReference Kind = "atomic-reference"
	KindMap             Kind = "map"
	KindSet             Kind = "set"
	KindStateLog        Kind = "state-log"
)

// Constructor builds a resource around its manager. Every kind registers
// exactly one.
type Constructor func(mgr *Manager) Resource

var (
	factoryMut sync.RWMutex
	factory    = make(map[Kind]Constructor)
)

// RegisterKind adds a constructor to the factory table. Intended to be
// called from init; later registrations replace earlier ones.
func RegisterKind(kind Kind, ctor Constructor) {
	factoryMut.Lock()
	defer factoryMut.Unlock()

	factory[kind] = ctor
}

// New instantiates the resource kind through the factory table.
func New(kind Kind, mgr *Manager) (Resource, error) {
	factoryMut.RLock()
	ctor, ok := factory[kind]
	factoryMut.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrConfiguration, kind)
	}

	return ctor(mgr), nil
}

func init() {
	RegisterKind(KindAtomicBool, newBool)
	RegisterKind(KindAtomicReference, newReference)
	RegisterKind(KindMap, newMap)
	RegisterKind(KindSet, newSet)
	RegisterKind(KindStateLog, newStateLog)
}
