package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/murmur3"

	"github.com/maxpoletaev/cohort/cluster"
	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/raftlog"
	"github.com/maxpoletaev/cohort/resource"
	"github.com/maxpoletaev/cohort/serializer"
)

var (
	// ErrNotOpen is returned by operations that require an open
	// coordinator.
	ErrNotOpen = errors.New("coordinator is not open")

	// ErrUnknownResource is returned by acquire and release for names
	// that were never registered through GetResource.
	ErrUnknownResource = errors.New("unknown resource")
)

// Coordinator is the per-node root of the cluster: it owns the member
// endpoints, the global membership raft group, and every replicated
// resource hosted on this node. All raft groups share one transport; the
// per-cluster routers keep their traffic apart by topic.
type Coordinator struct {
	conf     Config
	logger   log.Logger
	exec     *executor.Executor
	external *executor.Executor

	localMember   *membership.LocalEndpoint
	members       *membership.Registry
	globalContext *raft.Context
	globalCluster *cluster.Manager

	lmut     sync.Mutex
	listener *cluster.Subscription

	rmut      sync.Mutex
	resources map[string]*resourceHolder

	open atomic.Bool
}

// New builds a coordinator from the config. Member endpoints for every
// configured URI are created up front; nothing touches the network until
// Open.
func New(conf Config) (*Coordinator, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	conf = conf.withDefaults()
	logger := log.With(conf.Logger, "node", conf.LocalURI)

	localType := membership.TypePassive
	for _, uri := range conf.Members {
		if uri == conf.LocalURI {
			localType = membership.TypeActive
			break
		}
	}

	localMember := membership.NewLocalEndpoint(
		membership.Info{URI: conf.LocalURI, Type: localType},
		conf.Transport,
		executor.New("member-"+conf.LocalURI),
		logger,
	)

	members := membership.NewRegistry(localMember)

	for _, uri := range conf.Members {
		if uri == conf.LocalURI {
			continue
		}

		members.Add(membership.NewRemoteEndpoint(
			membership.Info{URI: uri, Type: membership.TypeActive},
			conf.LocalURI,
			conf.Transport,
			executor.New("member-"+uri),
			logger,
		))
	}

	globalExec := executor.New("cluster-global")

	globalContext := raft.NewContext("global", conf.LocalURI, raft.Config{
		ElectionTimeout:   conf.ElectionTimeout,
		HeartbeatInterval: conf.HeartbeatInterval,
		Replicas:          conf.Members,
		Log:               raftlog.New(),
		Clock:             conf.Clock,
		Logger:            logger,
	}, globalExec)

	globalCluster := cluster.NewManager(cluster.Config{
		ID:         0,
		Members:    members,
		Context:    globalContext,
		Serializer: serializer.NewMsgpack(),
		Executor:   globalExec,
		External:   conf.Executor,
		Logger:     logger,
	})

	return &Coordinator{
		conf:          conf,
		logger:        logger,
		exec:          executor.New("coordinator"),
		external:      conf.Executor,
		localMember:   localMember,
		members:       members,
		globalContext: globalContext,
		globalCluster: globalCluster,
		resources:     make(map[string]*resourceHolder),
	}, nil
}

// LocalMember returns the endpoint of the node itself.
func (c *Coordinator) LocalMember() *membership.LocalEndpoint {
	return c.localMember
}

// Member returns the endpoint for the URI, nil if the member is unknown.
func (c *Coordinator) Member(uri string) membership.Endpoint {
	return c.members.Get(uri)
}

// Members returns a snapshot of the current member endpoints.
func (c *Coordinator) Members() []membership.Endpoint {
	return c.members.Snapshot()
}

// Registry exposes the live member registry, for components layered on
// top of the coordinator such as the gossip failure detector.
func (c *Coordinator) Registry() *membership.Registry {
	return c.members
}

// Cluster returns the global cluster manager.
func (c *Coordinator) Cluster() *cluster.Manager {
	return c.globalCluster
}

// GlobalContext returns the raft context of the global membership group.
func (c *Coordinator) GlobalContext() *raft.Context {
	return c.globalContext
}

func (c *Coordinator) IsOpen() bool {
	return c.open.Load()
}

func (c *Coordinator) IsClosed() bool {
	return !c.open.Load()
}

// Open brings the coordinator up: all member endpoints open in parallel,
// then the membership listener is installed, then the global cluster and
// the global raft context open on the coordinator executor, in that
// order. The open flag is set last. If any step fails, the returned
// future fails and the coordinator remains closed.
func (c *Coordinator) Open() *future.Future[future.Void] {
	if c.open.Load() {
		return future.Nil()
	}

	endpoints := c.members.Snapshot()
	opens := make([]*future.Future[future.Void], 0, len(endpoints))

	for _, endpoint := range endpoints {
		opens = append(opens, endpoint.Open())
	}

	opened := future.ThenRun(future.AllOf(opens...), func() {
		c.lmut.Lock()
		defer c.lmut.Unlock()

		c.listener = c.globalCluster.AddMembershipListener(c.handleMembershipEvent)
	})

	clusterOpen := future.ComposeOn(c.exec, opened, func(future.Void) *future.Future[future.Void] {
		return c.globalCluster.Open()
	})

	contextOpen := future.ComposeOn(c.exec, clusterOpen, func(future.Void) *future.Future[future.Void] {
		return c.globalContext.Open()
	})

	return future.ThenRun(contextOpen, func() {
		c.open.Store(true)
		level.Info(c.logger).Log("msg", "coordinator open", "members", c.members.Len())
	})
}

// Close tears the coordinator down in reverse: the open flag drops first
// so new operations fail fast, member endpoint closes start in parallel,
// the membership listener is removed, all resources close, then the
// global context and the global cluster close on the coordinator
// executor, then the member closes are awaited, and the coordinator
// executor shuts down last.
func (c *Coordinator) Close() *future.Future[future.Void] {
	if !c.open.CompareAndSwap(true, false) {
		return future.Nil()
	}

	endpoints := c.members.Snapshot()
	closes := make([]*future.Future[future.Void], 0, len(endpoints))

	for _, endpoint := range endpoints {
		closes = append(closes, endpoint.Close())
	}

	c.lmut.Lock()
	if c.listener != nil {
		c.listener.Cancel()
		c.listener = nil
	}
	c.lmut.Unlock()

	contextClosed := future.ComposeOn(c.exec, c.closeResources(), func(future.Void) *future.Future[future.Void] {
		return c.globalContext.Close()
	})

	clusterClosed := future.ComposeOn(c.exec, contextClosed, func(future.Void) *future.Future[future.Void] {
		return c.globalCluster.Close()
	})

	membersClosed := future.Compose(clusterClosed, func(future.Void) *future.Future[future.Void] {
		return future.AllOf(closes...)
	})

	return future.ThenRun(membersClosed, func() {
		c.exec.Shutdown()
		level.Info(c.logger).Log("msg", "coordinator closed")
	})
}

// handleMembershipEvent maintains the member registry from global cluster
// events. Joins of already known URIs are ignored, which makes rejoins
// idempotent. Join events that carry no endpoint get a fresh one dialed
// through the coordinator's transport.
func (c *Coordinator) handleMembershipEvent(event membership.Event) {
	uri := event.Info.URI

	switch event.Type {
	case membership.EventJoin:
		if c.members.Has(uri) {
			return
		}

		endpoint := event.Endpoint
		if endpoint == nil {
			remote := membership.NewRemoteEndpoint(
				event.Info,
				c.conf.LocalURI,
				c.conf.Transport,
				executor.New("member-"+uri),
				c.logger,
			)

			remote.Open()
			endpoint = remote
		}

		c.members.Add(endpoint)
		level.Info(c.logger).Log("msg", "member joined", "uri", uri)
	case membership.EventLeave:
		c.members.Remove(uri)
		level.Info(c.logger).Log("msg", "member left", "uri", uri)
	}
}

// AddMembershipListener subscribes user code to global membership events.
// Unlike the coordinator's own bookkeeping, user callbacks run on the
// external executor so they cannot stall the cluster scheduler.
func (c *Coordinator) AddMembershipListener(fn func(membership.Event)) *cluster.Subscription {
	return c.globalCluster.AddMembershipListener(func(event membership.Event) {
		_ = c.external.Submit(func() {
			fn(event)
		})
	})
}

// GetResource returns the named resource, building it on first use. The
// resource gets its own raft context, cluster manager and executor; the
// same instance is returned on every subsequent call regardless of
// config.
func (c *Coordinator) GetResource(name string, confs ...resource.Config) (resource.Resource, error) {
	c.rmut.Lock()
	defer c.rmut.Unlock()

	if holder, ok := c.resources[name]; ok {
		return holder.resource, nil
	}

	var conf resource.Config
	if len(confs) > 0 {
		conf = confs[0].Copy()
	}

	if err := c.validateReplicas(conf.Replicas); err != nil {
		return nil, err
	}

	if conf.ElectionTimeout == 0 {
		conf.ElectionTimeout = c.conf.ElectionTimeout
	}

	if conf.HeartbeatInterval == 0 {
		conf.HeartbeatInterval = c.conf.HeartbeatInterval
	}

	replicas := conf.Replicas
	if len(replicas) == 0 {
		replicas = c.conf.Members
	}

	exec := executor.New("resource-" + name)

	state := raft.NewContext(name, c.conf.LocalURI, raft.Config{
		ElectionTimeout:   conf.ElectionTimeout,
		HeartbeatInterval: conf.HeartbeatInterval,
		Replicas:          replicas,
		Log:               raftlog.New(),
		Clock:             c.conf.Clock,
		Logger:            c.logger,
	}, exec)

	cl := cluster.NewManager(cluster.Config{
		ID:         murmur3.Sum32([]byte(name)),
		Members:    c.members,
		Context:    state,
		Serializer: conf.Serializer,
		Executor:   exec,
		External:   c.external,
		Logger:     c.logger,
	})

	mgr := resource.NewManager(name, conf, cl, state)

	res, err := resource.New(conf.Kind, mgr)
	if err != nil {
		exec.Shutdown()
		return nil, err
	}

	c.resources[name] = &resourceHolder{
		resource: res,
		cluster:  cl,
		state:    state,
		exec:     exec,
	}

	level.Debug(c.logger).Log("msg", "resource registered", "name", name, "kind", conf.Kind)

	return res, nil
}

func (c *Coordinator) validateReplicas(replicas []string) error {
	for _, replica := range replicas {
		found := false

		for _, member := range c.conf.Members {
			if member == replica {
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("%w: replica %s is not a cluster member", resource.ErrConfiguration, replica)
		}
	}

	return nil
}

func (c *Coordinator) holder(name string) *resourceHolder {
	c.rmut.Lock()
	defer c.rmut.Unlock()

	return c.resources[name]
}

// AcquireResource opens the resource's cluster and then its raft state.
// Acquiring an already acquired resource is a no-op.
func (c *Coordinator) AcquireResource(name string) *future.Future[future.Void] {
	if !c.open.Load() {
		return future.Failed[future.Void](ErrNotOpen)
	}

	holder := c.holder(name)
	if holder == nil {
		return future.Failed[future.Void](fmt.Errorf("%w: %s", ErrUnknownResource, name))
	}

	if holder.cluster.IsClosed() {
		return future.Compose(holder.cluster.Open(), func(future.Void) *future.Future[future.Void] {
			return holder.state.Open()
		})
	}

	return future.Nil()
}

// ReleaseResource closes the resource's raft state and then its cluster.
// Releasing a resource that is not acquired is a no-op.
func (c *Coordinator) ReleaseResource(name string) *future.Future[future.Void] {
	holder := c.holder(name)
	if holder == nil {
		return future.Failed[future.Void](fmt.Errorf("%w: %s", ErrUnknownResource, name))
	}

	if holder.cluster.IsOpen() {
		return future.Compose(holder.state.Close(), func(future.Void) *future.Future[future.Void] {
			return holder.cluster.Close()
		})
	}

	return future.Nil()
}

// closeResources tears down every acquired resource concurrently: state
// first, cluster second, then the resource executor stops.
func (c *Coordinator) closeResources() *future.Future[future.Void] {
	c.rmut.Lock()
	defer c.rmut.Unlock()

	futures := make([]*future.Future[future.Void], 0, len(c.resources))

	for _, holder := range c.resources {
		if holder.cluster.IsClosed() {
			continue
		}

		h := holder

		closed := future.Compose(h.state.Close(), func(future.Void) *future.Future[future.Void] {
			return h.cluster.Close()
		})

		futures = append(futures, future.ThenRun(closed, func() {
			h.exec.Shutdown()
		}))
	}

	return future.AllOf(futures...)
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("Coordinator[uri=%s, members=%v]", c.conf.LocalURI, c.members.URIs())
}
