package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/resource"
	"github.com/maxpoletaev/cohort/transport"
	"github.com/maxpoletaev/cohort/transport/local"
)

const (
	testElectionTimeout   = 100 * time.Millisecond
	testHeartbeatInterval = 25 * time.Millisecond
	convergeTimeout       = 10 * time.Second
	pollInterval          = 20 * time.Millisecond
)

func testURIs(n int) []string {
	uris := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		uris = append(uris, fmt.Sprintf("test-%d", i))
	}

	return uris
}

func newTestCoordinators(t *testing.T, n int) []*Coordinator {
	t.Helper()

	network := local.NewNetwork()
	uris := testURIs(n)

	coordinators := make([]*Coordinator, 0, n)

	for _, uri := range uris {
		coord, err := New(Config{
			LocalURI:          uri,
			Members:           uris,
			Transport:         network,
			ElectionTimeout:   testElectionTimeout,
			HeartbeatInterval: testHeartbeatInterval,
		})
		require.NoError(t, err)

		coordinators = append(coordinators, coord)
	}

	t.Cleanup(func() {
		for _, coord := range coordinators {
			_, _ = coord.Close().Wait(context.Background())
		}
	})

	return coordinators
}

func openAll(t *testing.T, coordinators []*Coordinator) {
	t.Helper()

	g := errgroup.Group{}

	for _, coord := range coordinators {
		coord := coord

		g.Go(func() error {
			_, err := coord.Open().Wait(context.Background())
			return err
		})
	}

	require.NoError(t, g.Wait())
}

func TestCoordinator_ThreeNodeOpen(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	for _, coord := range coordinators {
		require.True(t, coord.IsOpen())
		require.Len(t, coord.Members(), 3)

		for _, uri := range testURIs(3) {
			require.NotNil(t, coord.Member(uri), "expected %s to know %s", coord, uri)
		}
	}
}

func TestCoordinator_LeaderElection(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)

	var (
		mut     sync.Mutex
		leaders = make(map[string]string)
	)

	for _, coord := range coordinators {
		uri := coord.conf.LocalURI

		coord.GlobalContext().OnLeaderChange(func(event raft.LeaderChangeEvent) {
			if event.NewLeader == "" {
				return
			}

			mut.Lock()
			leaders[uri] = event.NewLeader
			mut.Unlock()
		})
	}

	openAll(t, coordinators)

	require.Eventually(t, func() bool {
		mut.Lock()
		defer mut.Unlock()

		if len(leaders) != 3 {
			return false
		}

		seen := make(map[string]struct{})
		for _, leader := range leaders {
			seen[leader] = struct{}{}
		}

		return len(seen) == 1
	}, convergeTimeout, pollInterval, "expected all coordinators to agree on one leader")

	count := 0
	for _, coord := range coordinators {
		if coord.GlobalContext().IsLeader() {
			count++
		}
	}

	require.Equal(t, 1, count)
}

func TestCoordinator_ResourceIsolation(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	for _, coord := range coordinators {
		_, err := coord.GetResource("alpha", resource.Config{Kind: resource.KindAtomicReference})
		require.NoError(t, err)

		_, err = coord.GetResource("beta", resource.Config{Kind: resource.KindAtomicReference})
		require.NoError(t, err)
	}

	for _, coord := range coordinators {
		_, err := coord.AcquireResource("alpha").Wait(context.Background())
		require.NoError(t, err)
	}

	for _, coord := range coordinators {
		require.True(t, coord.holder("alpha").cluster.IsOpen())
		require.True(t, coord.holder("alpha").state.IsOpen())
		require.True(t, coord.holder("beta").cluster.IsClosed())
		require.False(t, coord.holder("beta").state.IsOpen())
	}
}

func TestCoordinator_ResourceOps(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	refs := make([]*resource.Reference, 0, 3)

	for _, coord := range coordinators {
		res, err := coord.GetResource("shared", resource.Config{Kind: resource.KindAtomicReference})
		require.NoError(t, err)

		_, err = coord.AcquireResource("shared").Wait(context.Background())
		require.NoError(t, err)

		refs = append(refs, res.(*resource.Reference))
	}

	// Writes fail fast until the resource group elects a leader.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		return refs[0].Set(ctx, []byte("value-1")) == nil
	}, convergeTimeout, pollInterval)

	// Reads go through the leader, so every member observes the write
	// once it has learned who the leader is.
	for _, ref := range refs {
		ref := ref

		require.Eventually(t, func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			value, err := ref.Get(ctx)

			return err == nil && string(value) == "value-1"
		}, convergeTimeout, pollInterval)
	}
}

func TestCoordinator_MembershipLeave(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	// Let the membership views settle before taking a node down.
	require.Eventually(t, func() bool {
		return coordinators[0].GlobalContext().Leader() != ""
	}, convergeTimeout, pollInterval)

	_, err := coordinators[2].Close().Wait(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return coordinators[0].Member("test-3") == nil &&
			coordinators[1].Member("test-3") == nil
	}, convergeTimeout, pollInterval, "expected survivors to drop test-3")

	require.NotNil(t, coordinators[0].Member("test-1"))
	require.NotNil(t, coordinators[0].Member("test-2"))
}

func TestCoordinator_UserMembershipListener(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	var (
		mut    sync.Mutex
		events []membership.Event
	)

	sub := coordinators[0].AddMembershipListener(func(event membership.Event) {
		mut.Lock()
		events = append(events, event)
		mut.Unlock()
	})
	defer sub.Cancel()

	require.Eventually(t, func() bool {
		return coordinators[0].GlobalContext().Leader() != ""
	}, convergeTimeout, pollInterval)

	_, err := coordinators[2].Close().Wait(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mut.Lock()
		defer mut.Unlock()

		for _, event := range events {
			if event.Type == membership.EventLeave && event.Info.URI == "test-3" {
				return true
			}
		}

		return false
	}, convergeTimeout, pollInterval, "expected a user-level leave event for test-3")
}

func TestCoordinator_CloseClosesEndpoints(t *testing.T) {
	network := local.NewNetwork()

	coord, err := New(Config{
		LocalURI:          "test-1",
		Members:           []string{"test-1"},
		Transport:         network,
		ElectionTimeout:   testElectionTimeout,
		HeartbeatInterval: testHeartbeatInterval,
	})
	require.NoError(t, err)

	_, err = coord.Open().Wait(context.Background())
	require.NoError(t, err)

	_, err = coord.Close().Wait(context.Background())
	require.NoError(t, err)

	// The local endpoint must have unbound from the transport.
	conn, err := network.Dial(context.Background(), "test-1")
	require.NoError(t, err)

	_, err = conn.Send(context.Background(), &transport.Envelope{Topic: "sync"})
	require.ErrorIs(t, err, transport.ErrNoPeer)
}

func TestCoordinator_AcquireUnknownResource(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	openAll(t, coordinators)

	_, err := coordinators[0].AcquireResource("never-registered").Wait(context.Background())
	require.ErrorIs(t, err, ErrUnknownResource)

	_, err = coordinators[0].ReleaseResource("never-registered").Wait(context.Background())
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestCoordinator_AcquireWhenClosed(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)

	_, err := coordinators[0].GetResource("alpha", resource.Config{Kind: resource.KindAtomicBool})
	require.NoError(t, err)

	_, err = coordinators[0].AcquireResource("alpha").Wait(context.Background())
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestCoordinator_InvalidReplicas(t *testing.T) {
	coordinators := newTestCoordinators(t, 3)
	openAll(t, coordinators)

	_, err := coordinators[0].GetResource("bad", resource.Config{
		Kind:     resource.KindAtomicReference,
		Replicas: []string{"test-99"},
	})
	require.ErrorIs(t, err, resource.ErrConfiguration)
}

func TestCoordinator_UnknownResourceKind(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	openAll(t, coordinators)

	_, err := coordinators[0].GetResource("bad", resource.Config{Kind: "no-such-kind"})
	require.ErrorIs(t, err, resource.ErrConfiguration)
}

func TestCoordinator_GetResourceIdentity(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	openAll(t, coordinators)

	first, err := coordinators[0].GetResource("alpha", resource.Config{Kind: resource.KindMap})
	require.NoError(t, err)

	second, err := coordinators[0].GetResource("alpha")
	require.NoError(t, err)

	require.Same(t, first, second)
}

func TestCoordinator_OpenIdempotent(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	coord := coordinators[0]

	_, err := coord.Open().Wait(context.Background())
	require.NoError(t, err)

	_, err = coord.Open().Wait(context.Background())
	require.NoError(t, err)
	require.True(t, coord.IsOpen())
	require.Len(t, coord.Members(), 1)
}

func TestCoordinator_CloseIdempotent(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	coord := coordinators[0]

	_, err := coord.Open().Wait(context.Background())
	require.NoError(t, err)

	_, err = coord.Close().Wait(context.Background())
	require.NoError(t, err)
	require.True(t, coord.IsClosed())

	_, err = coord.Close().Wait(context.Background())
	require.NoError(t, err)
	require.True(t, coord.IsClosed())
}

func TestCoordinator_AcquireReleaseAcquire(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	coord := coordinators[0]
	openAll(t, coordinators)

	res, err := coord.GetResource("flag", resource.Config{Kind: resource.KindAtomicBool})
	require.NoError(t, err)

	flag := res.(*resource.Bool)

	_, err = coord.AcquireResource("flag").Wait(context.Background())
	require.NoError(t, err)

	// Acquiring twice is a no-op.
	_, err = coord.AcquireResource("flag").Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, flag.Set(context.Background(), true))

	_, err = coord.ReleaseResource("flag").Wait(context.Background())
	require.NoError(t, err)

	// Released resources reject operations.
	err = flag.Set(context.Background(), true)
	require.ErrorIs(t, err, raft.ErrClosed)

	// Releasing twice is a no-op.
	_, err = coord.ReleaseResource("flag").Wait(context.Background())
	require.NoError(t, err)

	_, err = coord.AcquireResource("flag").Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, flag.Set(context.Background(), false))
}

func TestCoordinator_CloseClosesResources(t *testing.T) {
	coordinators := newTestCoordinators(t, 1)
	coord := coordinators[0]
	openAll(t, coordinators)

	_, err := coord.GetResource("alpha", resource.Config{Kind: resource.KindSet})
	require.NoError(t, err)

	_, err = coord.AcquireResource("alpha").Wait(context.Background())
	require.NoError(t, err)

	_, err = coord.Close().Wait(context.Background())
	require.NoError(t, err)

	require.True(t, coord.holder("alpha").cluster.IsClosed())
	require.False(t, coord.holder("alpha").state.IsOpen())
}

func TestCoordinator_LocalMemberType(t *testing.T) {
	network := local.NewNetwork()

	active, err := New(Config{
		LocalURI:  "test-1",
		Members:   []string{"test-1", "test-2"},
		Transport: network,
	})
	require.NoError(t, err)
	require.Equal(t, membership.TypeActive, active.LocalMember().Info().Type)

	passive, err := New(Config{
		LocalURI:  "observer",
		Members:   []string{"test-1", "test-2"},
		Transport: network,
	})
	require.NoError(t, err)
	require.Equal(t, membership.TypePassive, passive.LocalMember().Info().Type)
}

func TestCoordinator_ConfigIsCopied(t *testing.T) {
	network := local.NewNetwork()
	members := []string{"test-1", "test-2"}

	coord, err := New(Config{
		LocalURI:  "test-1",
		Members:   members,
		Transport: network,
	})
	require.NoError(t, err)

	members[1] = "mutated"

	require.NotNil(t, coord.Member("test-2"))
	require.Nil(t, coord.Member("mutated"))
}
