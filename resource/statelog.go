package resource

import (
	"context"
	"fmt"
	"sync"
)

var _ Resource = (*StateLog)(nil)

// StateLog is a replicated append-only log of byte entries.
type StateLog struct {
	mgr *Manager

	mut     sync.RWMutex
	entries [][]byte
}

func newStateLog(mgr *Manager) Resource {
	l := &StateLog{mgr: mgr}

	mgr.OnApply(l.apply)
	mgr.OnQuery(l.query)

	return l
}

func (l *StateLog) Name() string {
	return l.mgr.Name()
}

// Append adds an entry to the log and returns its zero-based position.
func (l *StateLog) Append(ctx context.Context, entry []byte) (uint64, error) {
	data, err := l.mgr.Submit(ctx, Command{Op: "append", Value: entry})
	if err != nil {
		return 0, err
	}

	var index uint64
	if err := l.mgr.DecodeValue(data, &index); err != nil {
		return 0, err
	}

	return index, nil
}

// Size returns the number of entries.
func (l *StateLog) Size(ctx context.Context) (int, error) {
	data, err := l.mgr.Query(ctx, Command{Op: "size"})
	if err != nil {
		return 0, err
	}

	var size int
	if err := l.mgr.DecodeValue(data, &size); err != nil {
		return 0, err
	}

	return size, nil
}

// Entries returns a copy of all entries from the given position on.
func (l *StateLog) Entries(ctx context.Context, from uint64) ([][]byte, error) {
	operand, err := l.mgr.EncodeValue(from)
	if err != nil {
		return nil, err
	}

	data, err := l.mgr.Query(ctx, Command{Op: "entries", Value: operand})
	if err != nil {
		return nil, err
	}

	var entries [][]byte
	if err := l.mgr.DecodeValue(data, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

func (l *StateLog) apply(cmd Command) ([]byte, error) {
	l.mut.Lock()
	defer l.mut.Unlock()

	switch cmd.Op {
	case "append":
		l.entries = append(l.entries, append([]byte(nil), cmd.Value...))
		return l.mgr.EncodeValue(uint64(len(l.entries) - 1))
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Op)
	}
}

func (l *StateLog) query(cmd Command) ([]byte, error) {
	l.mut.RLock()
	defer l.mut.RUnlock()

	switch cmd.Op {
	case "size":
		return l.mgr.EncodeValue(len(l.entries))
	case "entries":
		var from uint64
		if err := l.mgr.DecodeValue(cmd.Value, &from); err != nil {
			return nil, err
		}

		if from > uint64(len(l.entries)) {
			from = uint64(len(l.entries))
		}

		entries := make([][]byte, 0, uint64(len(l.entries))-from)
		for _, entry := range l.entries[from:] {
			entries = append(entries, append([]byte(nil), entry...))
		}

		return l.mgr.EncodeValue(entries)
	default:
		return nil, fmt.Errorf("unknown query %q", cmd.Op)
	}
}
