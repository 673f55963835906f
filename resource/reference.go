package resource

import (
	"context"
	"fmt"
	"sync"
)

var _ Resource = (*Reference)(nil)

// Reference is a replicated atomic value holding arbitrary bytes.
type Reference struct {
	mgr *Manager

	mut   sync.RWMutex
	value []byte
}

func newReference(mgr *Manager) Resource {
	r := &Reference{mgr: mgr}

	mgr.OnApply(r.apply)
	mgr.OnQuery(r.query)

	return r
}

func (r *Reference) Name() string {
	return r.mgr.Name()
}

// Get returns the current value, nil if never set.
func (r *Reference) Get(ctx context.Context) ([]byte, error) {
	return r.mgr.Query(ctx, Command{Op: "get"})
}

// Set replaces the value.
func (r *Reference) Set(ctx context.Context, value []byte) error {
	_, err := r.mgr.Submit(ctx, Command{Op: "set", Value: value})
	return err
}

// GetAndSet replaces the value and returns the previous one.
func (r *Reference) GetAndSet(ctx context.Context, value []byte) ([]byte, error) {
	return r.mgr.Submit(ctx, Command{Op: "get-and-set", Value: value})
}

func (r *Reference) apply(cmd Command) ([]byte, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	switch cmd.Op {
	case "set":
		r.value = append([]byte(nil), cmd.Value...)
		return nil, nil
	case "get-and-set":
		previous := r.value
		r.value = append([]byte(nil), cmd.Value...)

		return previous, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Op)
	}
}

func (r *Reference) query(cmd Command) ([]byte, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	switch cmd.Op {
	case "get":
		return r.value, nil
	default:
		return nil, fmt.Errorf("unknown query %q", cmd.Op)
	}
}
