package resource

import (
	"context"
	"fmt"
	"sync"
)

var _ Resource = (*Bool)(nil)

// Bool is a replicated atomic boolean.
type Bool struct {
	mgr *Manager

	mut   sync.RWMutex
	value bool
}

func newBool(mgr *Manager) Resource {
	b := &Bool{mgr: mgr}

	mgr.OnApply(b.apply)
	mgr.OnQuery(b.query)

	return b
}

func (b *Bool) Name() string {
	return b.mgr.Name()
}

// Get returns the current value.
func (b *Bool) Get(ctx context.Context) (bool, error) {
	data, err := b.mgr.Query(ctx, Command{Op: "get"})
	if err != nil {
		return false, err
	}

	var value bool
	if err := b.mgr.DecodeValue(data, &value); err != nil {
		return false, err
	}

	return value, nil
}

// Set unconditionally replaces the value.
func (b *Bool) Set(ctx context.Context, value bool) error {
	operand, err := b.mgr.EncodeValue(value)
	if err != nil {
		return err
	}

	_, err = b.mgr.Submit(ctx, Command{Op: "set", Value: operand})

	return err
}

// CompareAndSet replaces the value only if it currently equals expect, and
// reports whether the swap happened.
func (b *Bool) CompareAndSet(ctx context.Context, expect, update bool) (bool, error) {
	expectData, err := b.mgr.EncodeValue(expect)
	if err != nil {
		return false, err
	}

	updateData, err := b.mgr.EncodeValue(update)
	if err != nil {
		return false, err
	}

	data, err := b.mgr.Submit(ctx, Command{Op: "cas", Value: updateData, Aux: expectData})
	if err != nil {
		return false, err
	}

	var swapped bool
	if err := b.mgr.DecodeValue(data, &swapped); err != nil {
		return false, err
	}

	return swapped, nil
}

func (b *Bool) apply(cmd Command) ([]byte, error) {
	b.mut.Lock()
	defer b.mut.Unlock()

	switch cmd.Op {
	case "set":
		var value bool
		if err := b.mgr.DecodeValue(cmd.Value, &value); err != nil {
			return nil, err
		}

		b.value = value

		return nil, nil
	case "cas":
		var expect, update bool

		if err := b.mgr.DecodeValue(cmd.Aux, &expect); err != nil {
			return nil, err
		}

		if err := b.mgr.DecodeValue(cmd.Value, &update); err != nil {
			return nil, err
		}

		swapped := b.value == expect
		if swapped {
			b.value = update
		}

		return b.mgr.EncodeValue(swapped)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Op)
	}
}

func (b *Bool) query(cmd Command) ([]byte, error) {
	b.mut.RLock()
	defer b.mut.RUnlock()

	switch cmd.Op {
	case "get":
		return b.mgr.EncodeValue(b.value)
	default:
		return nil, fmt.Errorf("unknown query %q", cmd.Op)
	}
}
