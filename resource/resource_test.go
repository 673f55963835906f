package resource_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/cohort/coordinator"
	"github.com/maxpoletaev/cohort/resource"
	"github.com/maxpoletaev/cohort/transport/local"
)

// newCoordinator spins up a single-member coordinator: its resources get
// a single-member quorum, so commands commit without any peers.
func newCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()

	coord, err := coordinator.New(coordinator.Config{
		LocalURI:          "test-1",
		Members:           []string{"test-1"},
		Transport:         local.NewNetwork(),
		ElectionTimeout:   100 * time.Millisecond,
		HeartbeatInterval: 25 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = coord.Open().Wait(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = coord.Close().Wait(context.Background())
	})

	return coord
}

func acquire(t *testing.T, coord *coordinator.Coordinator, name string, kind resource.Kind) resource.Resource {
	t.Helper()

	res, err := coord.GetResource(name, resource.Config{Kind: kind})
	require.NoError(t, err)

	_, err = coord.AcquireResource(name).Wait(context.Background())
	require.NoError(t, err)

	return res
}

func TestResource_UnknownKind(t *testing.T) {
	coord := newCoordinator(t)

	_, err := coord.GetResource("bad", resource.Config{Kind: "no-such-kind"})
	require.ErrorIs(t, err, resource.ErrConfiguration)
}

func TestBool_SetGetCompareAndSet(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	flag := acquire(t, coord, "flag", resource.KindAtomicBool).(*resource.Bool)

	value, err := flag.Get(ctx)
	require.NoError(t, err)
	require.False(t, value)

	require.NoError(t, flag.Set(ctx, true))

	value, err = flag.Get(ctx)
	require.NoError(t, err)
	require.True(t, value)

	swapped, err := flag.CompareAndSet(ctx, true, false)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = flag.CompareAndSet(ctx, true, false)
	require.NoError(t, err)
	require.False(t, swapped)

	value, err = flag.Get(ctx)
	require.NoError(t, err)
	require.False(t, value)
}

func TestReference_SetGet(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	ref := acquire(t, coord, "ref", resource.KindAtomicReference).(*resource.Reference)

	value, err := ref.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, ref.Set(ctx, []byte("first")))

	previous, err := ref.GetAndSet(ctx, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, []byte("first"), previous)

	value, err = ref.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), value)
}

func TestMap_PutGetDelete(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	kv := acquire(t, coord, "kv", resource.KindMap).(*resource.Map)

	previous, err := kv.Put(ctx, "a", []byte("1"))
	require.NoError(t, err)
	require.Empty(t, previous)

	previous, err = kv.Put(ctx, "a", []byte("2"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), previous)

	_, err = kv.Put(ctx, "b", []byte("3"))
	require.NoError(t, err)

	value, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)

	size, err := kv.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	removed, err := kv.Delete(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), removed)

	size, err = kv.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestSet_AddRemoveContains(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	set := acquire(t, coord, "set", resource.KindSet).(*resource.Set)

	added, err := set.Add(ctx, "x")
	require.NoError(t, err)
	require.True(t, added)

	added, err = set.Add(ctx, "x")
	require.NoError(t, err)
	require.False(t, added)

	ok, err := set.Contains(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := set.Remove(ctx, "x")
	require.NoError(t, err)
	require.True(t, removed)

	ok, err = set.Contains(ctx, "x")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateLog_AppendEntries(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	journal := acquire(t, coord, "journal", resource.KindStateLog).(*resource.StateLog)

	index, err := journal.Append(ctx, []byte("one"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), index)

	index, err = journal.Append(ctx, []byte("two"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)

	size, err := journal.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)

	entries, err := journal.Entries(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("two")}, entries)
}

func TestResource_NameMatches(t *testing.T) {
	coord := newCoordinator(t)

	res := acquire(t, coord, "named", resource.KindAtomicBool)
	require.Equal(t, "named", res.Name())
}
