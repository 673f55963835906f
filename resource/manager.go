package resource

import (
	"context"
	"errors"

	"github.com/maxpoletaev/cohort/cluster"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/serializer"
)

var (
	errNoHandler = errors.New("resource handler not installed")
)

// Command is the unit of replication for all resource kinds: an operation
// name plus up to two operands. Concrete resources give the fields their
// meaning.
type Command struct {
	Op    string
	Key   string
	Value []byte
	Aux   []byte
}

// Manager adapts a private raft group to the resource API: commands are
// replicated through the group's log, queries are answered by the leader's
// materialized state. Exactly one manager exists per resource, shared by
// the resource instance and the coordinator.
type Manager struct {
	name    string
	conf    Config
	cluster *cluster.Manager
	state   *raft.Context
	ser     serializer.Serializer

	applyFn func(Command) ([]byte, error)
	queryFn func(Command) ([]byte, error)
}

func NewManager(name string, conf Config, cl *cluster.Manager, state *raft.Context) *Manager {
	ser := conf.Serializer
	if ser == nil {
		ser = serializer.NewMsgpack()
	}

	m := &Manager{
		name:    name,
		conf:    conf,
		cluster: cl,
		state:   state,
		ser:     ser,
	}

	state.SetStateMachine(m.applyCommand)
	state.SetQueryHandler(m.applyQuery)

	return m
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) Config() Config {
	return m.conf.Copy()
}

// OnApply installs the function committed commands are materialized
// through. It runs on the resource's raft executor, on every replica.
func (m *Manager) OnApply(fn func(Command) ([]byte, error)) {
	m.applyFn = fn
}

// OnQuery installs the function leader-side reads are answered by.
func (m *Manager) OnQuery(fn func(Command) ([]byte, error)) {
	m.queryFn = fn
}

// Submit replicates a command and blocks until it commits and applies.
func (m *Manager) Submit(ctx context.Context, cmd Command) ([]byte, error) {
	data, err := m.ser.Marshal(&cmd)
	if err != nil {
		return nil, err
	}

	return m.state.Submit(data).Wait(ctx)
}

// Query reads from the resource state without going through the log.
func (m *Manager) Query(ctx context.Context, cmd Command) ([]byte, error) {
	data, err := m.ser.Marshal(&cmd)
	if err != nil {
		return nil, err
	}

	return m.state.Query(data).Wait(ctx)
}

// EncodeValue and DecodeValue convert operand and result values with the
// resource's serializer.
func (m *Manager) EncodeValue(v any) ([]byte, error) {
	return m.ser.Marshal(v)
}

func (m *Manager) DecodeValue(data []byte, v any) error {
	return m.ser.Unmarshal(data, v)
}

func (m *Manager) applyCommand(data []byte) ([]byte, error) {
	if m.applyFn == nil {
		return nil, errNoHandler
	}

	var cmd Command
	if err := m.ser.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}

	return m.applyFn(cmd)
}

func (m *Manager) applyQuery(data []byte) ([]byte, error) {
	if m.queryFn == nil {
		return nil, errNoHandler
	}

	var cmd Command
	if err := m.ser.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}

	return m.queryFn(cmd)
}
