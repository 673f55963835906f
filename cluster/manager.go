package cluster

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/serializer"
)

// MemberSource is where a cluster looks members up. It is a relation, not
// ownership: the coordinator owns the registry and outlives every cluster
// that references it.
type MemberSource interface {
	Local() *membership.LocalEndpoint
	Get(uri string) membership.Endpoint
}

// Config assembles a cluster manager. Executor is the scheduler shared
// with the raft context; External is where user callbacks are allowed to
// run without stalling the protocol.
type Config struct {
	ID         uint32
	Members    MemberSource
	Context    *raft.Context
	Serializer serializer.Serializer
	Executor   *executor.Executor
	External   *executor.Executor
	Logger     log.Logger
}

// Manager is the local view of one raft group: its member lookups, the
// routing that binds the group's protocol to the shared transport, and
// membership event delivery. The global cluster has ID 0; resource
// clusters hash their name.
type Manager struct {
	id       uint32
	members  MemberSource
	context  *raft.Context
	router   *Router
	ser      serializer.Serializer
	exec     *executor.Executor
	external *executor.Executor
	logger   log.Logger

	mut       sync.Mutex
	opened    bool
	nextSub   int
	listeners map[int]func(membership.Event)
}

func NewManager(conf Config) *Manager {
	ser := conf.Serializer
	if ser == nil {
		ser = serializer.NewMsgpack()
	}

	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Manager{
		id:        conf.ID,
		members:   conf.Members,
		context:   conf.Context,
		router:    NewRouter(ser, conf.Executor),
		ser:       ser,
		exec:      conf.Executor,
		external:  conf.External,
		logger:    log.With(logger, "cluster", conf.ID),
		listeners: make(map[int]func(membership.Event)),
	}
}

func (m *Manager) ID() uint32 {
	return m.id
}

func (m *Manager) IsOpen() bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	return m.opened
}

func (m *Manager) IsClosed() bool {
	return !m.IsOpen()
}

// Open installs the routes and starts membership event delivery. It must
// run before the raft context opens so that no protocol message finds the
// handler table empty.
func (m *Manager) Open() *future.Future[future.Void] {
	m.mut.Lock()
	defer m.mut.Unlock()

	if m.opened {
		return future.Nil()
	}

	m.router.CreateRoutes(m, m.context)
	m.context.SetMembershipHandler(m.handleViewChange)
	m.opened = true

	level.Debug(m.logger).Log("msg", "cluster open")

	return future.Nil()
}

// Close stops event delivery and tears the routes down. The caller is
// expected to have closed the raft context first.
func (m *Manager) Close() *future.Future[future.Void] {
	m.mut.Lock()
	defer m.mut.Unlock()

	if !m.opened {
		return future.Nil()
	}

	m.context.SetMembershipHandler(nil)
	m.router.DestroyRoutes(m, m.context)
	m.opened = false

	level.Debug(m.logger).Log("msg", "cluster closed")

	return future.Nil()
}

// Member returns the cluster view of a member, or nil if the URI is not
// currently known.
func (m *Manager) Member(uri string) *Member {
	endpoint := m.members.Get(uri)
	if endpoint == nil {
		return nil
	}

	return &Member{clusterID: m.id, endpoint: endpoint, ser: m.ser}
}

// LocalMember returns the cluster view of the local member.
func (m *Manager) LocalMember() *Member {
	return &Member{clusterID: m.id, endpoint: m.members.Local(), ser: m.ser}
}

func (m *Manager) localEndpoint() *membership.LocalEndpoint {
	return m.members.Local()
}

// Subscription undoes a listener registration.
type Subscription struct {
	cancel func()
}

func (s *Subscription) Cancel() {
	s.cancel()
}

// AddMembershipListener subscribes to join and leave events of this
// cluster. Delivery is serialized on the cluster executor.
func (m *Manager) AddMembershipListener(fn func(membership.Event)) *Subscription {
	m.mut.Lock()
	defer m.mut.Unlock()

	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn

	return &Subscription{
		cancel: func() {
			m.mut.Lock()
			defer m.mut.Unlock()

			delete(m.listeners, id)
		},
	}
}

// handleViewChange translates raft view changes into membership events.
// It runs on the cluster executor, which keeps delivery FIFO.
func (m *Manager) handleViewChange(change raft.ViewChange) {
	event := membership.Event{
		Info: membership.Info{
			URI:    change.URI,
			Type:   membership.TypeActive,
			Status: membership.StatusAlive,
		},
	}

	if endpoint := m.members.Get(change.URI); endpoint != nil {
		event.Endpoint = endpoint
		event.Info = endpoint.Info()
	}

	if change.Joined {
		event.Type = membership.EventJoin
	} else {
		event.Type = membership.EventLeave
		event.Info.Status = membership.StatusDead
	}

	level.Debug(m.logger).Log("msg", "membership event", "type", event.Type, "uri", change.URI)

	m.mut.Lock()
	listeners := make([]func(membership.Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mut.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
