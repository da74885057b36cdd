package pex

import (
	"fmt"

	"github.com/cenkalti/rainpex/internal/benc"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/endpointset"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
	"github.com/cenkalti/rainpex/internal/peersource"
)

// Swarm is the part of the swarm membership manager used when a PEX message is received.
type Swarm interface {
	// NumPeers returns the number of peers known by the swarm.
	NumPeers() int
	// AddPeers adds discovered peers and returns how many of them were new.
	AddPeers(endpoints []endpoint.Endpoint, source peersource.Source) int
}

// ParseResult is the content of a received PEX message.
type ParseResult struct {
	Added   []endpoint.Endpoint
	Flags   []byte
	Dropped []endpoint.Endpoint
	// Number of added peers accepted by the swarm.
	Accepted int
	// Ignored is set when the message is not processed because of the torrent being private
	// or the swarm having enough peers.
	Ignored bool
}

// BuildMessage encodes a ut_pex message. Endpoints are written in ascending order.
// flags is sent as "added.f" without being interpreted.
func BuildMessage(codec benc.Codec, added, dropped *endpointset.Set, flags []byte) ([]byte, error) {
	if added.Len() == 0 && dropped.Len() == 0 {
		return nil, fmt.Errorf("%w: empty pex message", ErrEncoding)
	}
	msg := peerprotocol.ExtensionPEXMessage{
		Added:      string(endpoint.EncodeCompact(added.Slice())),
		AddedFlags: string(flags),
		Dropped:    string(endpoint.EncodeCompact(dropped.Slice())),
	}
	b, err := codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEncoding, err)
	}
	return b, nil
}

// ParseMessage parses a ut_pex message received from the remote peer and adds new peers to sw.
//
// Messages of private torrents and messages received while sw has at least
// the cutoff number of peers are ignored without error. A field of wrong type
// or length is treated as if it is missing; only a message which is not a
// bencoded dictionary returns an error.
func (s *State) ParseMessage(b []byte, sw Swarm) (ParseResult, error) {
	var r ParseResult
	if s.private || (s.cutoff > 0 && sw.NumPeers() >= s.cutoff) {
		r.Ignored = true
		return r, nil
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return r, fmt.Errorf("pex message: %w", err)
	}
	d, err := v.AsDict()
	if err != nil {
		return r, fmt.Errorf("pex message: %w", err)
	}
	if added, ok := d.String("added"); ok {
		r.Added, _ = endpoint.DecodeCompact([]byte(added))
	}
	if flags, ok := d.String("added.f"); ok && len(r.Added) > 0 {
		r.Flags = []byte(flags)
	}
	if dropped, ok := d.String("dropped"); ok {
		r.Dropped, _ = endpoint.DecodeCompact([]byte(dropped))
	}
	if len(r.Added) > 0 {
		r.Accepted = sw.AddPeers(r.Added, peersource.PEX)
	}
	return r, nil
}
