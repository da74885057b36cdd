package peer

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenkalti/rainpex/internal/benc"
	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/endpointset"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
	"github.com/cenkalti/rainpex/internal/pex"
	"github.com/cenkalti/rainpex/internal/swarm"
)

type testSender struct {
	msgC chan peerprotocol.ExtensionMessage
}

func newTestSender() *testSender {
	return &testSender{msgC: make(chan peerprotocol.ExtensionMessage, 10)}
}

func (s *testSender) SendMessage(msg peerprotocol.ExtensionMessage) {
	s.msgC <- msg
}

func (s *testSender) next(t *testing.T) peerprotocol.ExtensionMessage {
	select {
	case msg := <-s.msgC:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message sent")
	}
	return peerprotocol.ExtensionMessage{}
}

func (s *testSender) empty(t *testing.T) {
	select {
	case msg := <-s.msgC:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig
	cfg.PEXInterval = time.Hour
	return &cfg
}

type fixture struct {
	swarm  *swarm.Swarm
	sender *testSender
	peer   *Peer
}

// newFixture connects 3 peers to a swarm and starts a Peer for the first one.
func newFixture(t *testing.T, cfg *config.Config, private bool) *fixture {
	sw := swarm.New("test", private, cfg)
	var remote endpoint.Endpoint
	for i, addr := range []string{"1.1.1.1:6881", "2.2.2.2:6881", "3.3.3.3:6881"} {
		e, err := sw.Connect(addr, endpoint.MustParse(addr).Addr(), true)
		require.NoError(t, err)
		if i == 0 {
			remote = e
		}
	}
	sender := newTestSender()
	p := New("1.1.1.1:6881", remote, sender, sw, cfg, nil)
	go p.Run()
	return &fixture{swarm: sw, sender: sender, peer: p}
}

func TestHandshakeAndRound(t *testing.T) {
	defer leaktest.Check(t)()

	f := newFixture(t, testConfig(), false)
	defer f.peer.Close()

	msg := f.sender.next(t)
	assert.Equal(t, uint8(peerprotocol.ExtensionIDHandshake), msg.ExtendedMessageID)
	d, err := benc.DecodeDict(msg.Payload)
	require.NoError(t, err)
	m, ok := d.Dict("m")
	require.True(t, ok)
	id, ok := m.Int("ut_pex")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	// Remote supports PEX with ID 5. First round starts immediately.
	require.NoError(t, f.peer.HandleMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           []byte("d1:md6:ut_pexi5eee"),
	}))
	msg = f.sender.next(t)
	assert.Equal(t, uint8(5), msg.ExtendedMessageID)
	d, err = benc.DecodeDict(msg.Payload)
	require.NoError(t, err)
	added, _ := d.String("added")
	expected := endpoint.EncodeCompact([]endpoint.Endpoint{endpoint.MustParse("2.2.2.2:6881"), endpoint.MustParse("3.3.3.3:6881")})
	assert.Equal(t, string(expected), added)

	// Nothing changed.
	f.peer.Flush()
	f.sender.empty(t)

	// A peer disconnects.
	f.swarm.Disconnect("2.2.2.2:6881")
	f.peer.Flush()
	msg = f.sender.next(t)
	d, err = benc.DecodeDict(msg.Payload)
	require.NoError(t, err)
	dropped, _ := d.String("dropped")
	assert.Equal(t, string(endpoint.EncodeCompact([]endpoint.Endpoint{endpoint.MustParse("2.2.2.2:6881")})), dropped)
	assert.Equal(t, int64(2), f.peer.metrics.MessagesSent.Count())
}

func TestReceivePEX(t *testing.T) {
	defer leaktest.Check(t)()

	f := newFixture(t, testConfig(), false)
	defer f.peer.Close()
	f.sender.next(t)

	added := endpointset.New(endpoint.MustParse("4.4.4.4:1"), endpoint.MustParse("5.5.5.5:1"))
	b, err := pex.BuildMessage(benc.Bencode, added, endpointset.New(), []byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, f.peer.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDPEX, Payload: b}))
	assert.Equal(t, added.Slice(), f.swarm.Known())
	assert.Equal(t, int64(2), f.peer.metrics.PeersAccepted.Count())

	err = f.peer.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDPEX, Payload: []byte("i1e")})
	assert.ErrorIs(t, err, pex.ErrUnexpectedType)
	assert.Equal(t, int64(1), f.peer.metrics.ParseErrors.Count())

	err = f.peer.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: 9, Payload: []byte("de")})
	assert.Error(t, err)
}

func TestReceivePEXRateLimit(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig()
	cfg.MaxIncomingPEXPerMinute = 1
	f := newFixture(t, cfg, false)
	defer f.peer.Close()
	f.sender.next(t)

	msg := peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDPEX, Payload: []byte("de")}
	require.NoError(t, f.peer.HandleMessage(msg))
	require.NoError(t, f.peer.HandleMessage(msg))
	assert.Equal(t, int64(2), f.peer.metrics.MessagesReceived.Count())
	assert.Equal(t, int64(1), f.peer.metrics.RateLimited.Count())
}

func TestPrivate(t *testing.T) {
	defer leaktest.Check(t)()

	f := newFixture(t, testConfig(), true)
	defer f.peer.Close()

	msg := f.sender.next(t)
	d, err := benc.DecodeDict(msg.Payload)
	require.NoError(t, err)
	m, _ := d.Dict("m")
	assert.Empty(t, m)

	require.NoError(t, f.peer.HandleMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           []byte("d1:md6:ut_pexi5eee"),
	}))
	f.peer.Flush()
	f.sender.empty(t)

	b := "d5:added6:" + string(endpoint.MustParse("4.4.4.4:1").AppendCompact(nil)) + "e"
	require.NoError(t, f.peer.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDPEX, Payload: []byte(b)}))
	assert.Empty(t, f.swarm.Known())
	assert.Equal(t, int64(1), f.peer.metrics.Ignored.Count())
}

func TestBuildFailure(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig()
	cfg.MaxMessageSize = 10
	f := newFixture(t, cfg, false)
	defer f.peer.Close()
	f.sender.next(t)

	require.NoError(t, f.peer.HandleMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           []byte("d1:md6:ut_pexi5eee"),
	}))
	f.peer.Flush()
	f.sender.empty(t)
	assert.Equal(t, int64(2), f.peer.metrics.BuildFailures.Count())
}

func TestIncomingListenPort(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig()
	sw := swarm.New("test", false, cfg)
	remote, err := sw.Connect("in", &net.TCPAddr{IP: net.IPv4(7, 7, 7, 7), Port: 40000}, false)
	require.NoError(t, err)
	p := New("in", remote, newTestSender(), sw, cfg, nil)
	go p.Run()
	defer p.Close()

	assert.Empty(t, sw.Snapshot(""))
	require.NoError(t, p.HandleMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           []byte("d1:pi51413ee"),
	}))
	assert.Equal(t, pex.Snapshot{{Endpoint: endpoint.MustParse("7.7.7.7:51413")}}, sw.Snapshot(""))
}

func TestClosed(t *testing.T) {
	defer leaktest.Check(t)()

	f := newFixture(t, testConfig(), false)
	f.peer.Close()
	err := f.peer.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDPEX, Payload: []byte("de")})
	assert.ErrorIs(t, err, errClosed)
	f.peer.Flush()

	// Second Close returns immediately.
	f.peer.Close()
}
