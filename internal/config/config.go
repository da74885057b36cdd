// Package config holds tunables of the PEX extension.
package config

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Version of the client, sent in the "v" key of the extension handshake.
const Version = "0.1.0"

// Config for PEX.
type Config struct {
	// Human readable client name and version sent in extension handshake.
	ClientVersion string `yaml:"client-version"`
	// Extension message ID we ask remote peers to use for ut_pex messages to us.
	PEXExtensionID uint8 `yaml:"pex-extension-id"`
	// Peers received with PEX are ignored when the swarm already has this many peers.
	PEXPeerCutoff int `yaml:"pex-peer-cutoff"`
	// Max number of added and dropped peers in a single PEX message after the first one. 0 means no limit.
	// BEP 11 recommends 50.
	MaxDeltaPeers int `yaml:"max-delta-peers"`
	// Building a PEX message fails if encoded size exceeds this value. 0 means no limit.
	MaxMessageSize int `yaml:"max-message-size"`
	// Time between PEX rounds for a connection.
	PEXInterval time.Duration `yaml:"pex-interval"`
	// Incoming PEX messages above this rate are dropped. 0 means no limit.
	MaxIncomingPEXPerMinute int `yaml:"max-incoming-pex-per-minute"`
	// A warning is logged after this many consecutive failed PEX rounds on a connection.
	BuildFailureWarnThreshold int `yaml:"build-failure-warn-threshold"`
	// Max number of peer addresses kept by the swarm, connected peers excluded.
	MaxKnownPeers int `yaml:"max-known-peers"`
	// Listen port advertised in extension handshake. 0 means not listening.
	PublicPort uint16 `yaml:"public-port"`
}

// DefaultConfig for PEX.
var DefaultConfig = Config{
	ClientVersion:             "Rain PEX " + Version,
	PEXExtensionID:            1,
	PEXPeerCutoff:             50,
	MaxDeltaPeers:             0,
	MaxMessageSize:            16 * 1024,
	PEXInterval:               time.Minute,
	MaxIncomingPEXPerMinute:   2,
	BuildFailureWarnThreshold: 3,
	MaxKnownPeers:             500,
	PublicPort:                6881,
}

// Load reads the YAML file at path on top of DefaultConfig.
// A missing file is not an error, defaults are returned.
func Load(path string) (*Config, error) {
	c := DefaultConfig
	if path == "" {
		return &c, nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
