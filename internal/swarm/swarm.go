// Package swarm keeps the peers of a single torrent: connected peers and
// addresses learned from trackers, DHT or PEX that are not connected yet.
package swarm

import (
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/logger"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
	"github.com/cenkalti/rainpex/internal/peersource"
	"github.com/cenkalti/rainpex/internal/pex"
)

var (
	errNotIPv4       = errors.New("peer address is not IPv4")
	errAlreadyExists = errors.New("peer is already connected")
	errNotConnected  = errors.New("peer is not connected")
)

// Swarm is safe for concurrent use.
type Swarm struct {
	private    bool
	publicPort uint16
	maxKnown   int
	log        logger.Logger

	m sync.RWMutex
	// Connected peers keyed by connection ID.
	connected map[string]*member
	// Addresses not connected yet.
	known map[endpoint.Endpoint]*knownPeer
}

type member struct {
	addr endpoint.Endpoint
	// Port the peer accepts connections on, 0 if not known yet.
	listenPort uint16
	flags      byte
}

type knownPeer struct {
	source peersource.Source
}

// New returns an empty swarm.
func New(name string, private bool, cfg *config.Config) *Swarm {
	return &Swarm{
		private:    private,
		publicPort: cfg.PublicPort,
		maxKnown:   cfg.MaxKnownPeers,
		log:        logger.New("swarm " + name),
		connected:  make(map[string]*member),
		known:      make(map[endpoint.Endpoint]*knownPeer),
	}
}

// Private returns true if the torrent of the swarm is private.
func (s *Swarm) Private() bool { return s.private }

// PublicPort returns the port we listen for incoming connections.
func (s *Swarm) PublicPort() uint16 { return s.publicPort }

// Connect registers a new connection with id.
// The listen port of peers we have connected to is the port we dialed.
// For incoming connections it is not known until the peer tells it in the extension handshake.
// Returned endpoint is the remote address of the connection.
func (s *Swarm) Connect(id string, addr *net.TCPAddr, outgoing bool) (endpoint.Endpoint, error) {
	e, ok := endpoint.FromTCPAddr(addr)
	if !ok {
		return e, errNotIPv4
	}
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.connected[id]; ok {
		return e, errAlreadyExists
	}
	mb := &member{addr: e}
	if outgoing {
		mb.listenPort = e.Port
		mb.flags |= peerprotocol.PEXOutgoingConn
		delete(s.known, e)
	}
	s.connected[id] = mb
	return e, nil
}

// SetListenPort sets the port the peer of connection id accepts connections on.
func (s *Swarm) SetListenPort(id string, port uint16) error {
	s.m.Lock()
	defer s.m.Unlock()
	mb, ok := s.connected[id]
	if !ok {
		return errNotConnected
	}
	mb.listenPort = port
	delete(s.known, mb.addr.WithPort(port))
	return nil
}

// Disconnect removes the connection with id.
func (s *Swarm) Disconnect(id string) {
	s.m.Lock()
	delete(s.connected, id)
	s.m.Unlock()
}

// NumPeers returns the number of connected and known peers.
func (s *Swarm) NumPeers() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.connected) + len(s.known)
}

// NumConnected returns the number of connected peers.
func (s *Swarm) NumConnected() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.connected)
}

// AddPeers adds addresses that are not connected or known already.
// Addresses with zero port are discarded. It returns the number of addresses added.
func (s *Swarm) AddPeers(endpoints []endpoint.Endpoint, source peersource.Source) int {
	s.m.Lock()
	defer s.m.Unlock()
	var added int
	for _, e := range endpoints {
		// 0 port is invalid
		if e.Port == 0 {
			continue
		}
		if s.maxKnown > 0 && len(s.known) >= s.maxKnown {
			break
		}
		if _, ok := s.known[e]; ok {
			continue
		}
		if s.isConnected(e) {
			continue
		}
		s.known[e] = &knownPeer{source: source}
		added++
	}
	if added > 0 {
		s.log.Debugf("added %d of %d peers from %s", added, len(endpoints), source)
	}
	return added
}

func (s *Swarm) isConnected(e endpoint.Endpoint) bool {
	for _, mb := range s.connected {
		if mb.addr.SameIP(e) && mb.listenPort == e.Port {
			return true
		}
	}
	return false
}

// Snapshot returns connected peers with known listen port, sorted by address.
// The peer of connection self is marked.
func (s *Swarm) Snapshot(self string) pex.Snapshot {
	s.m.RLock()
	snap := make(pex.Snapshot, 0, len(s.connected))
	for id, mb := range s.connected {
		if mb.listenPort == 0 {
			continue
		}
		snap = append(snap, pex.SnapshotPeer{
			Endpoint: mb.addr.WithPort(mb.listenPort),
			Flags:    mb.flags,
			IsSelf:   id == self,
		})
	}
	s.m.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return endpoint.Less(snap[i].Endpoint, snap[j].Endpoint) })
	return snap
}

// Known returns addresses that are not connected, sorted.
func (s *Swarm) Known() []endpoint.Endpoint {
	s.m.RLock()
	l := make([]endpoint.Endpoint, 0, len(s.known))
	for e := range s.known {
		l = append(l, e)
	}
	s.m.RUnlock()
	sort.Slice(l, func(i, j int) bool { return endpoint.Less(l[i], l[j]) })
	return l
}

// Sources returns the number of not connected addresses by source.
func (s *Swarm) Sources() map[peersource.Source]int {
	s.m.RLock()
	defer s.m.RUnlock()
	counts := make(map[peersource.Source]int)
	for _, kp := range s.known {
		counts[kp.source]++
	}
	return counts
}
