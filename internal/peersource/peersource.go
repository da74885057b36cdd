// Package peersource defines where a peer address was learned from.
package peersource

import "strconv"

// Source is the provenance of a discovered peer address.
type Source int

const (
	// Tracker means the address came from a tracker announce response.
	Tracker Source = iota
	// DHT means the address came from a DHT lookup.
	DHT
	// PEX means the address was advertised by another peer with the ut_pex extension.
	PEX
	// Incoming means the peer connected to us.
	Incoming
	// Manual means the address was added by the user.
	Manual
)

var sourceStrings = [...]string{
	Tracker:  "tracker",
	DHT:      "dht",
	PEX:      "pex",
	Incoming: "incoming",
	Manual:   "manual",
}

func (s Source) String() string {
	if s < 0 || int(s) >= len(sourceStrings) {
		return "source(" + strconv.Itoa(int(s)) + ")"
	}
	return sourceStrings[s]
}
