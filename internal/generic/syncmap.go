package generic

import "sync"

// SyncMap wraps sync.Map with typed keys and values, so the call sites do
// not have to cast.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value for a key. The second result is false if the key
// is not present.
func (m *SyncMap[K, V]) Load(key K) (V, bool) {
	if v, ok := m.m.Load(key); ok {
		return v.(V), true
	}

	var zero V

	return zero, false
}

// Store sets the value for a key.
func (m *SyncMap[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// Delete removes the key from the map.
func (m *SyncMap[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// Range calls fn for each entry until it returns false.
func (m *SyncMap[K, V]) Range(fn func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
}

// Values returns a snapshot of all values in the map.
func (m *SyncMap[K, V]) Values() []V {
	values := make([]V, 0)

	m.Range(func(_ K, value V) bool {
		values = append(values, value)
		return true
	})

	return values
}
