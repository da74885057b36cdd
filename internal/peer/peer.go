// Package peer runs the PEX extension for a single connection.
package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/ratelimit"

	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/logger"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
	"github.com/cenkalti/rainpex/internal/pex"
)

var errClosed = errors.New("peer is closed")

// Sender delivers extension messages to the remote peer.
type Sender interface {
	SendMessage(msg peerprotocol.ExtensionMessage)
}

// Swarm is the torrent swarm the connection belongs to.
type Swarm interface {
	pex.Swarm
	Snapshot(self string) pex.Snapshot
	SetListenPort(id string, port uint16) error
	Private() bool
	PublicPort() uint16
}

// Peer handles the extension handshake and ut_pex messages of a connection.
// Messages from the remote peer and PEX rounds are processed one at a time in Run.
type Peer struct {
	id     string
	state  *pex.State
	sender Sender
	swarm  Swarm
	caps   pex.Capabilities

	interval      time.Duration
	warnThreshold int
	bucket        *ratelimit.Bucket
	metrics       *pex.Metrics
	log           logger.Logger

	messageC chan messageRequest
	flushC   chan chan struct{}
	closeC   chan struct{}
	doneC    chan struct{}

	closeOnce sync.Once
}

type messageRequest struct {
	msg  peerprotocol.ExtensionMessage
	errC chan error
}

// New returns a Peer for the connection id with remote address.
// Run must be started before calling HandleMessage, Flush or Close; they wait for the Run loop.
func New(id string, remote endpoint.Endpoint, sender Sender, sw Swarm, cfg *config.Config, m *pex.Metrics) *Peer {
	if m == nil {
		m = pex.NewMetrics(nil)
	}
	caps := pex.NewCapabilities(cfg)
	caps.PublicPort = sw.PublicPort()
	var bucket *ratelimit.Bucket
	if n := int64(cfg.MaxIncomingPEXPerMinute); n > 0 {
		bucket = ratelimit.NewBucketWithQuantum(time.Minute, n, n)
	}
	return &Peer{
		id:            id,
		state:         pex.NewState(remote, sw.Private(), cfg),
		sender:        sender,
		swarm:         sw,
		caps:          caps,
		interval:      cfg.PEXInterval,
		warnThreshold: cfg.BuildFailureWarnThreshold,
		bucket:        bucket,
		metrics:       m,
		log:           logger.New("peer " + remote.String()),
		messageC:      make(chan messageRequest),
		flushC:        make(chan chan struct{}),
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
	}
}

// Run sends the extension handshake and processes messages and PEX rounds until Close is called.
func (p *Peer) Run() {
	defer close(p.doneC)

	p.sendHandshake()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case req := <-p.messageC:
			req.errC <- p.handleMessage(req.msg)
		case done := <-p.flushC:
			p.round()
			close(done)
		case <-ticker.C:
			p.round()
		case <-p.closeC:
			return
		}
	}
}

// Close stops Run and waits for it to return. It is safe to call Close more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.closeC) })
	<-p.doneC
}

// HandleMessage processes an extension message received from the remote peer.
// The returned error is a protocol violation; deciding whether to drop the connection is up to the caller.
func (p *Peer) HandleMessage(msg peerprotocol.ExtensionMessage) error {
	req := messageRequest{msg: msg, errC: make(chan error, 1)}
	select {
	case p.messageC <- req:
	case <-p.doneC:
		return errClosed
	}
	return <-req.errC
}

// Flush runs a PEX round now and waits for it to complete.
func (p *Peer) Flush() {
	done := make(chan struct{})
	select {
	case p.flushC <- done:
	case <-p.doneC:
		return
	}
	<-done
}

func (p *Peer) sendHandshake() {
	b, err := p.state.BuildHandshake(p.caps)
	if err != nil {
		p.log.Errorln("cannot build extension handshake:", err)
		return
	}
	p.sender.SendMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           b,
	})
	p.metrics.HandshakesSent.Inc(1)
	p.log.Debugf("SEND extended-handshake, port=%d private=%v", p.state.AdvertisedPort(), p.state.Private())
}

func (p *Peer) handleMessage(msg peerprotocol.ExtensionMessage) error {
	switch msg.ExtendedMessageID {
	case peerprotocol.ExtensionIDHandshake:
		return p.handleHandshake(msg.Payload)
	case p.caps.PEXID:
		return p.handlePEX(msg.Payload)
	default:
		return fmt.Errorf("peer sent invalid extension message id: %d", msg.ExtendedMessageID)
	}
}

func (p *Peer) handleHandshake(b []byte) error {
	p.metrics.HandshakesReceived.Inc(1)
	wasEnabled := p.state.Enabled()
	oldPort := p.state.RemotePort()
	if err := p.state.ParseHandshake(b); err != nil {
		p.metrics.ParseErrors.Inc(1)
		p.log.Debugln("GET  extended-handshake:", err)
		return err
	}
	p.log.Debugf("GET  extended-handshake, ok client=%q port=%d pex=%d", p.state.ClientName(), p.state.RemotePort(), p.state.SupportID())
	if port := p.state.RemotePort(); port != 0 && port != oldPort {
		if err := p.swarm.SetListenPort(p.id, port); err != nil {
			p.log.Debugln("cannot set listen port:", err)
		}
	}
	if !wasEnabled && p.state.Enabled() {
		p.round()
	}
	return nil
}

func (p *Peer) handlePEX(b []byte) error {
	p.metrics.MessagesReceived.Inc(1)
	if p.bucket != nil && p.bucket.TakeAvailable(1) == 0 {
		p.metrics.RateLimited.Inc(1)
		p.log.Debugln("GET  extended-pex, ignoring, peer is sending too often")
		return nil
	}
	r, err := p.state.ParseMessage(b, p.swarm)
	if err != nil {
		p.metrics.ParseErrors.Inc(1)
		p.log.Debugln("GET  extended-pex:", err)
		return err
	}
	if r.Ignored {
		p.metrics.Ignored.Inc(1)
		p.log.Debugf("GET  extended-pex, ignoring private=%v peers=%d", p.state.Private(), p.swarm.NumPeers())
		return nil
	}
	p.metrics.PeersReceived.Inc(int64(len(r.Added)))
	p.metrics.PeersAccepted.Inc(int64(r.Accepted))
	p.log.Debugf("GET  extended-pex, got %d peers, used %d, dropped %d", len(r.Added), r.Accepted, len(r.Dropped))
	return nil
}

func (p *Peer) round() {
	msg, err := p.state.Round(p.swarm.Snapshot(p.id))
	if err != nil {
		p.metrics.BuildFailures.Inc(1)
		if n := p.state.Failures(); p.warnThreshold > 0 && n == p.warnThreshold {
			p.log.Warningf("cannot build pex message in %d consecutive rounds: %s", n, err)
		} else {
			p.log.Debugln("cannot build pex message:", err)
		}
		return
	}
	if msg == nil {
		return
	}
	p.sender.SendMessage(peerprotocol.ExtensionMessage{
		ExtendedMessageID: p.state.SupportID(),
		Payload:           msg,
	})
	p.metrics.MessagesSent.Inc(1)
	p.log.Debugf("SEND extended-pex, advertised %d peers", p.state.Sent().Len())
}

// State returns the PEX state. It must not be used while Run is running.
func (p *Peer) State() *pex.State { return p.state }
