package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	_ Resource = (*Map)(nil)
	_ Resource = (*Set)(nil)
)

// Map is a replicated map with string keys and byte-slice values.
type Map struct {
	mgr *Manager

	mut     sync.RWMutex
	entries map[string][]byte
}

func newMap(mgr *Manager) Resource {
	m := &Map{
		mgr:     mgr,
		entries: make(map[string][]byte),
	}

	mgr.OnApply(m.apply)
	mgr.OnQuery(m.query)

	return m
}

func (m *Map) Name() string {
	return m.mgr.Name()
}

// Put stores a value under the key and returns the previous value, nil if
// the key was absent.
func (m *Map) Put(ctx context.Context, key string, value []byte) ([]byte, error) {
	return m.mgr.Submit(ctx, Command{Op: "put", Key: key, Value: value})
}

// Get returns the value for the key, nil if absent.
func (m *Map) Get(ctx context.Context, key string) ([]byte, error) {
	return m.mgr.Query(ctx, Command{Op: "get", Key: key})
}

// Delete removes the key and returns the removed value, nil if absent.
func (m *Map) Delete(ctx context.Context, key string) ([]byte, error) {
	return m.mgr.Submit(ctx, Command{Op: "delete", Key: key})
}

// Size returns the number of entries.
func (m *Map) Size(ctx context.Context) (int, error) {
	data, err := m.mgr.Query(ctx, Command{Op: "size"})
	if err != nil {
		return 0, err
	}

	var size int
	if err := m.mgr.DecodeValue(data, &size); err != nil {
		return 0, err
	}

	return size, nil
}

// Keys returns the keys in lexicographic order.
func (m *Map) Keys(ctx context.Context) ([]string, error) {
	data, err := m.mgr.Query(ctx, Command{Op: "keys"})
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := m.mgr.DecodeValue(data, &keys); err != nil {
		return nil, err
	}

	return keys, nil
}

func (m *Map) apply(cmd Command) ([]byte, error) {
	m.mut.Lock()
	defer m.mut.Unlock()

	switch cmd.Op {
	case "put":
		previous := m.entries[cmd.Key]
		m.entries[cmd.Key] = append([]byte(nil), cmd.Value...)

		return previous, nil
	case "delete":
		previous := m.entries[cmd.Key]
		delete(m.entries, cmd.Key)

		return previous, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Op)
	}
}

func (m *Map) query(cmd Command) ([]byte, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	switch cmd.Op {
	case "get":
		return m.entries[cmd.Key], nil
	case "size":
		return m.mgr.EncodeValue(len(m.entries))
	case "keys":
		keys := make([]string, 0, len(m.entries))
		for key := range m.entries {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		return m.mgr.EncodeValue(keys)
	default:
		return nil, fmt.Errorf("unknown query %q", cmd.Op)
	}
}

// Set is a replicated set of strings.
type Set struct {
	mgr *Manager

	mut     sync.RWMutex
	entries map[string]struct{}
}

func newSet(mgr *Manager) Resource {
	s := &Set{
		mgr:     mgr,
		entries: make(map[string]struct{}),
	}

	mgr.OnApply(s.apply)
	mgr.OnQuery(s.query)

	return s
}

func (s *Set) Name() string {
	return s.mgr.Name()
}

// Add inserts the value and reports whether it was not already present.
func (s *Set) Add(ctx context.Context, value string) (bool, error) {
	return s.submitBool(ctx, Command{Op: "add", Key: value})
}

// Remove drops the value and reports whether it was present.
func (s *Set) Remove(ctx context.Context, value string) (bool, error) {
	return s.submitBool(ctx, Command{Op: "remove", Key: value})
}

// Contains reports whether the value is in the set.
func (s *Set) Contains(ctx context.Context, value string) (bool, error) {
	data, err := s.mgr.Query(ctx, Command{Op: "contains", Key: value})
	if err != nil {
		return false, err
	}

	var ok bool
	if err := s.mgr.DecodeValue(data, &ok); err != nil {
		return false, err
	}

	return ok, nil
}

// Size returns the number of values in the set.
func (s *Set) Size(ctx context.Context) (int, error) {
	data, err := s.mgr.Query(ctx, Command{Op: "size"})
	if err != nil {
		return 0, err
	}

	var size int
	if err := s.mgr.DecodeValue(data, &size); err != nil {
		return 0, err
	}

	return size, nil
}

func (s *Set) submitBool(ctx context.Context, cmd Command) (bool, error) {
	data, err := s.mgr.Submit(ctx, cmd)
	if err != nil {
		return false, err
	}

	var changed bool
	if err := s.mgr.DecodeValue(data, &changed); err != nil {
		return false, err
	}

	return changed, nil
}

func (s *Set) apply(cmd Command) ([]byte, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	switch cmd.Op {
	case "add":
		_, exists := s.entries[cmd.Key]
		s.entries[cmd.Key] = struct{}{}

		return s.mgr.EncodeValue(!exists)
	case "remove":
		_, exists := s.entries[cmd.Key]
		delete(s.entries, cmd.Key)

		return s.mgr.EncodeValue(exists)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Op)
	}
}

func (s *Set) query(cmd Command) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	switch cmd.Op {
	case "contains":
		_, ok := s.entries[cmd.Key]
		return s.mgr.EncodeValue(ok)
	case "size":
		return s.mgr.EncodeValue(len(s.entries))
	default:
		return nil, fmt.Errorf("unknown query %q", cmd.Op)
	}
}
