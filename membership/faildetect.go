package membership

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/memberlist"
)

// DetectorConfig sets up the gossip failure detector.
type DetectorConfig struct {
	// BindAddr is the host:port the gossip listener binds to. It is
	// separate from the member URI, which names the request transport.
	BindAddr string

	// Peers are gossip addresses of other detectors to join.
	Peers []string

	Registry *Registry
	Logger   log.Logger
}

// Detector is a SWIM-based failure detector layered on top of the member
// registry. It does not add or remove members: that stays with the
// membership events of the global cluster. It only downgrades the status
// of members whose gossip presence disappears, and restores it when they
// come back, so that operators see trouble before the raft layer times
// out.
type Detector struct {
	conf   DetectorConfig
	logger log.Logger
	ml     *memberlist.Memberlist
}

func NewDetector(conf DetectorConfig) (*Detector, error) {
	host, portStr, err := net.SplitHostPort(conf.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("parse gossip bind address: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse gossip bind port: %w", err)
	}

	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	mconf := memberlist.DefaultLANConfig()
	mconf.Name = conf.Registry.Local().URI()
	mconf.BindAddr = host
	mconf.BindPort = port
	mconf.LogOutput = io.Discard
	mconf.Events = &detectorEvents{
		registry: conf.Registry,
		logger:   logger,
	}

	ml, err := memberlist.Create(mconf)
	if err != nil {
		return nil, fmt.Errorf("create gossip listener: %w", err)
	}

	return &Detector{
		conf:   conf,
		logger: logger,
		ml:     ml,
	}, nil
}

// Join connects to the configured gossip peers. Safe to call with no
// peers: the detector then just waits for others to find it.
func (d *Detector) Join() error {
	if len(d.conf.Peers) == 0 {
		return nil
	}

	if _, err := d.ml.Join(d.conf.Peers); err != nil {
		return fmt.Errorf("join gossip peers: %w", err)
	}

	return nil
}

// Close leaves the gossip cluster gracefully and stops the listener.
func (d *Detector) Close(timeout time.Duration) error {
	if err := d.ml.Leave(timeout); err != nil {
		level.Warn(d.logger).Log("msg", "gossip leave failed", "err", err)
	}

	return d.ml.Shutdown()
}

type detectorEvents struct {
	registry *Registry
	logger   log.Logger
}

func (e *detectorEvents) NotifyJoin(node *memberlist.Node) {
	e.registry.SetStatus(node.Name, StatusAlive)
	level.Debug(e.logger).Log("msg", "gossip member up", "uri", node.Name)
}

func (e *detectorEvents) NotifyLeave(node *memberlist.Node) {
	e.registry.SetStatus(node.Name, StatusSuspicious)
	level.Debug(e.logger).Log("msg", "gossip member down", "uri", node.Name)
}

func (e *detectorEvents) NotifyUpdate(node *memberlist.Node) {}
