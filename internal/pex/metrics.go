package pex

import "github.com/rcrowley/go-metrics"

// Metrics are counters for PEX activity, shared by all connections of a session.
type Metrics struct {
	Registry metrics.Registry

	HandshakesSent     metrics.Counter
	HandshakesReceived metrics.Counter
	MessagesSent       metrics.Counter
	BuildFailures      metrics.Counter
	MessagesReceived   metrics.Counter
	ParseErrors        metrics.Counter
	Ignored            metrics.Counter
	RateLimited        metrics.Counter
	PeersReceived      metrics.Counter
	PeersAccepted      metrics.Counter
}

// NewMetrics registers PEX counters in r. A new registry is created if r is nil.
func NewMetrics(r metrics.Registry) *Metrics {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &Metrics{
		Registry: r,

		HandshakesSent:     metrics.NewRegisteredCounter("pex.handshakes_sent", r),
		HandshakesReceived: metrics.NewRegisteredCounter("pex.handshakes_received", r),
		MessagesSent:       metrics.NewRegisteredCounter("pex.messages_sent", r),
		BuildFailures:      metrics.NewRegisteredCounter("pex.build_failures", r),
		MessagesReceived:   metrics.NewRegisteredCounter("pex.messages_received", r),
		ParseErrors:        metrics.NewRegisteredCounter("pex.parse_errors", r),
		Ignored:            metrics.NewRegisteredCounter("pex.ignored", r),
		RateLimited:        metrics.NewRegisteredCounter("pex.rate_limited", r),
		PeersReceived:      metrics.NewRegisteredCounter("pex.peers_received", r),
		PeersAccepted:      metrics.NewRegisteredCounter("pex.peers_accepted", r),
	}
}

// Snapshot returns current values of all counters keyed by name.
func (m *Metrics) Snapshot() map[string]int64 {
	values := make(map[string]int64)
	m.Registry.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			values[name] = c.Count()
		}
	})
	return values
}
