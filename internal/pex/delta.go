package pex

import (
	"fmt"

	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/endpointset"
)

// SnapshotPeer is a connected peer of the swarm at the time of a snapshot.
type SnapshotPeer struct {
	Endpoint endpoint.Endpoint
	// PEX flags of the peer, sent in "added.f".
	Flags byte
	// IsSelf is set for the peer the snapshot is taken for.
	IsSelf bool
}

// Snapshot is a point in time view of the swarm. It must not be modified after it is created.
type Snapshot []SnapshotPeer

// Delta is the difference between the peers advertised to a remote peer and the current swarm.
type Delta struct {
	// Peers in the swarm that have not been advertised yet.
	Added *endpointset.Set
	// Advertised peers that are not in the swarm anymore.
	Dropped *endpointset.Set
	// Advertised peers that are still in the swarm.
	Common *endpointset.Set

	flags map[endpoint.Endpoint]byte
}

// Empty returns true if there is nothing to send.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Dropped.Len() == 0
}

// Flags returns a flag byte for each endpoint of added, in ascending order.
func (d Delta) Flags(added *endpointset.Set) []byte {
	b := make([]byte, 0, added.Len())
	added.Ascend(func(e endpoint.Endpoint) bool {
		b = append(b, d.flags[e])
		return true
	})
	return b
}

// ComputeDelta compares sent against snap.
// Snapshot entries for remote's address, entries marked IsSelf and entries with zero port are ignored.
// Neither sent nor snap is modified.
func ComputeDelta(sent *endpointset.Set, remote endpoint.Endpoint, snap Snapshot) Delta {
	current := endpointset.New()
	flags := make(map[endpoint.Endpoint]byte)
	for _, p := range snap {
		if p.IsSelf || p.Endpoint.Port == 0 || p.Endpoint.SameIP(remote) {
			continue
		}
		current.Add(p.Endpoint)
		flags[p.Endpoint] |= p.Flags
	}
	return Delta{
		Added:   endpointset.Difference(current, sent),
		Dropped: endpointset.Difference(sent, current),
		Common:  endpointset.Intersection(sent, current),
		flags:   flags,
	}
}

// Delta returns the difference between peers advertised to the remote peer and snap.
func (s *State) Delta(snap Snapshot) Delta {
	return ComputeDelta(s.sent, s.remote, snap)
}

// messageOverhead is the encoded size of a ut_pex message without its endpoints,
// for values shorter than 10 MB.
const messageOverhead = 2 + len("5:added") + len("7:added.f") + len("7:dropped") + 3*len("9999999:")

// fitMessage limits added and dropped in ascending order so that the encoded
// message is not larger than maxSize. Added peers are kept first.
func fitMessage(added, dropped *endpointset.Set, maxSize int) (*endpointset.Set, *endpointset.Set) {
	room := maxSize - messageOverhead
	if room <= 0 || added.Len()*(endpoint.Size+1)+dropped.Len()*endpoint.Size <= room {
		return added, dropped
	}
	added = added.Head(room / (endpoint.Size + 1))
	room -= added.Len() * (endpoint.Size + 1)
	dropped = dropped.Head(room / endpoint.Size)
	return added, dropped
}

// Round builds the next PEX message for the remote peer from snap.
//
// It returns a nil message and nil error if there is nothing to send or if the
// remote peer does not support PEX. Peers that do not fit into one message are
// left for the following rounds. If the message cannot be built, the error
// wraps ErrEncoding and the advertised peers are left exactly as before, so the
// next round sends the same delta again.
func (s *State) Round(snap Snapshot) ([]byte, error) {
	if !s.Enabled() {
		return nil, nil
	}
	d := s.Delta(snap)
	if d.Empty() {
		return nil, nil
	}
	added, dropped := d.Added, d.Dropped
	// BEP 11: Except for the initial PEX message the combined amount of added v4/v6 contacts should not exceed 50 entries.
	if s.messages > 0 && s.maxDeltaPeers > 0 {
		added = added.Head(s.maxDeltaPeers)
		dropped = dropped.Head(s.maxDeltaPeers)
	}
	if s.maxMessageSize > 0 {
		added, dropped = fitMessage(added, dropped, s.maxMessageSize)
	}
	b, err := BuildMessage(s.codec, added, dropped, d.Flags(added))
	if err == nil && s.maxMessageSize > 0 && len(b) > s.maxMessageSize {
		err = fmt.Errorf("%w: message size %d exceeds limit %d", ErrEncoding, len(b), s.maxMessageSize)
	}
	if err != nil {
		s.failures++
		return nil, err
	}
	next := endpointset.Union(d.Common, added)
	if dropped.Len() < d.Dropped.Len() {
		// Peers not dropped in this message stay advertised until a later round drops them.
		next = endpointset.Union(next, endpointset.Difference(d.Dropped, dropped))
	}
	s.sent = next
	s.messages++
	s.failures = 0
	return b, nil
}
