// Package pex implements the ut_pex extension of the BitTorrent protocol.
//
// A State is kept for each connection. It remembers which peers have been
// advertised to the remote peer so that each round sends only the peers added
// and dropped since the previous round. A State is not safe for concurrent use;
// all rounds and received messages of a connection must be handled by a single
// goroutine.
package pex

import (
	"net"

	"github.com/cenkalti/rainpex/internal/benc"
	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/endpointset"
)

// maxClientNameLength limits the "v" value we keep from remote handshakes.
const maxClientNameLength = 64

// State of the PEX extension for a single connection.
type State struct {
	remote  endpoint.Endpoint
	private bool
	codec   benc.Codec

	cutoff         int
	maxDeltaPeers  int
	maxMessageSize int

	// Peers advertised to the remote peer so far.
	sent *endpointset.Set
	// Number of PEX messages built successfully.
	messages int
	// Consecutive failed rounds.
	failures int

	supportID      uint8
	advertisedPort uint16
	remotePort     uint16
	clientName     string
	externalIP     net.IP
}

// NewState returns the PEX state for a new connection to remote.
// PEX support of the remote peer is unknown until its extension handshake is parsed.
func NewState(remote endpoint.Endpoint, private bool, cfg *config.Config) *State {
	return &State{
		remote:         remote,
		private:        private,
		codec:          benc.Bencode,
		cutoff:         cfg.PEXPeerCutoff,
		maxDeltaPeers:  cfg.MaxDeltaPeers,
		maxMessageSize: cfg.MaxMessageSize,
		sent:           endpointset.New(),
	}
}

// Remote returns the endpoint of the remote peer.
func (s *State) Remote() endpoint.Endpoint { return s.remote }

// Private returns true if the connection belongs to a private torrent.
func (s *State) Private() bool { return s.private }

// SupportID returns the extension message ID the remote peer wants for ut_pex messages.
// Zero means the remote peer does not support PEX.
func (s *State) SupportID() uint8 { return s.supportID }

// Enabled returns true if PEX messages can be sent to the remote peer.
func (s *State) Enabled() bool { return !s.private && s.supportID != 0 }

// AdvertisedPort returns the listen port sent in our last extension handshake.
func (s *State) AdvertisedPort() uint16 { return s.advertisedPort }

// RemotePort returns the listen port of the remote peer, 0 if unknown.
func (s *State) RemotePort() uint16 { return s.remotePort }

// ClientName returns the "v" value from the remote extension handshake.
func (s *State) ClientName() string { return s.clientName }

// ExternalIP returns our IP address as seen by the remote peer, nil if not reported.
func (s *State) ExternalIP() net.IP { return s.externalIP }

// Sent returns a copy of the peers advertised to the remote peer so far.
func (s *State) Sent() *endpointset.Set { return s.sent.Clone() }

// Failures returns the number of consecutive rounds that failed to build a message.
func (s *State) Failures() int { return s.failures }

// Messages returns the number of PEX messages built for this connection.
func (s *State) Messages() int { return s.messages }
