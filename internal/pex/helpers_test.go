package pex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenkalti/rainpex/internal/benc"
	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/peersource"
)

var errTestEncode = errors.New("out of memory")

// failingCodec decodes normally but fails every encode.
type failingCodec struct{}

func (failingCodec) Encode(interface{}) ([]byte, error) { return nil, errTestEncode }
func (failingCodec) Decode(b []byte) (benc.Value, error) { return benc.Decode(b) }

type testSwarm struct {
	count int
	known map[endpoint.Endpoint]peersource.Source
	added []endpoint.Endpoint
}

func newTestSwarm(count int) *testSwarm {
	return &testSwarm{
		count: count,
		known: make(map[endpoint.Endpoint]peersource.Source),
	}
}

func (s *testSwarm) NumPeers() int { return s.count + len(s.known) }

func (s *testSwarm) AddPeers(endpoints []endpoint.Endpoint, source peersource.Source) int {
	var n int
	for _, e := range endpoints {
		if _, ok := s.known[e]; ok {
			continue
		}
		s.known[e] = source
		s.added = append(s.added, e)
		n++
	}
	return n
}

var remote = endpoint.MustParse("9.9.9.9:51413")

func testConfig() *config.Config {
	cfg := config.DefaultConfig
	return &cfg
}

// newEnabledState returns a state for a remote peer that has sent ut_pex in its handshake.
func newEnabledState(t *testing.T, cfg *config.Config) *State {
	s := NewState(remote, false, cfg)
	require.NoError(t, s.ParseHandshake([]byte("d1:md6:ut_pexi2eee")))
	require.Equal(t, uint8(2), s.SupportID())
	return s
}

func snapshotOf(endpoints ...endpoint.Endpoint) Snapshot {
	snap := make(Snapshot, 0, len(endpoints))
	for _, e := range endpoints {
		snap = append(snap, SnapshotPeer{Endpoint: e})
	}
	return snap
}

type decodedMessage struct {
	added, flags, dropped string
}

func decodeMessage(t require.TestingT, b []byte) decodedMessage {
	d, err := benc.DecodeDict(b)
	require.NoError(t, err)
	require.Len(t, d, 3)
	var m decodedMessage
	var ok bool
	m.added, ok = d.String("added")
	require.True(t, ok)
	m.flags, ok = d.String("added.f")
	require.True(t, ok)
	m.dropped, ok = d.String("dropped")
	require.True(t, ok)
	return m
}

func compact(endpoints ...endpoint.Endpoint) string {
	return string(endpoint.EncodeCompact(endpoints))
}
