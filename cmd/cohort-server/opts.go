package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

var opts struct {
	Node struct {
		URI     string `long:"uri" env:"URI" description:"address of this node"`
		Members string `long:"members" env:"MEMBERS" description:"comma-separated list of cluster member addresses"`
	} `group:"node" namespace:"node" env-namespace:"NODE"`

	Raft struct {
		ElectionTimeout   int `long:"election-timeout" description:"election timeout (ms)" env:"ELECTION_TIMEOUT" default:"500"`
		HeartbeatInterval int `long:"heartbeat-interval" description:"heartbeat interval (ms)" env:"HEARTBEAT_INTERVAL" default:"125"`
	} `group:"raft" namespace:"raft" env-namespace:"RAFT"`

	Gossip struct {
		Enabled  bool   `long:"enabled" description:"enable the gossip failure detector" env:"ENABLED"`
		BindAddr string `long:"bind-addr" description:"gossip bind address" env:"BIND_ADDR" default:":7946"`
		Peers    string `long:"peers" description:"comma-separated list of gossip peers" env:"PEERS"`
	} `group:"gossip" namespace:"gossip" env-namespace:"GOSSIP"`

	ConfigFile string `long:"config" short:"c" description:"path to the yaml config file" env:"CONFIG"`
	Verbose    bool   `long:"verbose" short:"v" description:"verbose mode" env:"VERBOSE"`
}

// fileConfig is the yaml counterpart of the command line options, plus the
// resource declarations that have no flag equivalent.
type fileConfig struct {
	LocalURI string   `yaml:"local_uri"`
	Members  []string `yaml:"members"`

	// Timeouts are in milliseconds, since yaml has no duration type.
	ElectionTimeoutMS   int `yaml:"election_timeout_ms"`
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`

	Gossip struct {
		Enabled  bool     `yaml:"enabled"`
		BindAddr string   `yaml:"bind_addr"`
		Peers    []string `yaml:"peers"`
	} `yaml:"gossip"`

	// Resources maps resource names to kinds. Declared resources are
	// registered and acquired on startup.
	Resources map[string]string `yaml:"resources"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	conf := &fileConfig{}

	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return conf, nil
}

// mergeOpts overlays non-empty node and gossip command line options onto
// the file config. The raft timeout options always have a value, so they
// only fill in timeouts the file leaves unset.
func mergeOpts(conf *fileConfig) {
	if opts.Node.URI != "" {
		conf.LocalURI = opts.Node.URI
	}

	if opts.Node.Members != "" {
		conf.Members = parseAddrs(opts.Node.Members)
	}

	if conf.ElectionTimeoutMS == 0 {
		conf.ElectionTimeoutMS = opts.Raft.ElectionTimeout
	}

	if conf.HeartbeatIntervalMS == 0 {
		conf.HeartbeatIntervalMS = opts.Raft.HeartbeatInterval
	}

	if opts.Gossip.Enabled {
		conf.Gossip.Enabled = true
		conf.Gossip.BindAddr = opts.Gossip.BindAddr
		conf.Gossip.Peers = parseAddrs(opts.Gossip.Peers)
	}
}

func parseAddrs(addrs string) []string {
	parts := strings.Split(addrs, ",")
	res := make([]string, 0, len(parts))

	for _, addr := range parts {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			res = append(res, trimmed)
		}
	}

	return res
}
