// Package endpoint implements the compact peer address used by ut_pex and trackers.
package endpoint

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"
)

// Size is the length of an endpoint in compact form.
const Size = net.IPv4len + 2

// ErrInvalidLength is returned when a compact peer list is not a multiple of Size.
var ErrInvalidLength = errors.New("invalid compact peer list length")

// Endpoint is a struct value which consist of a 4-bytes IP address and a 2-bytes port value.
// Endpoint can be used as a key in maps because it does not contain any pointers.
type Endpoint struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// FromTCPAddr returns the Endpoint for addr. ok is false if addr is not an IPv4 address.
func FromTCPAddr(addr *net.TCPAddr) (e Endpoint, ok bool) {
	if addr == nil || addr.Port < 0 || addr.Port > 0xffff {
		return e, false
	}
	return FromIP(addr.IP, uint16(addr.Port))
}

// FromIP returns the Endpoint for ip and port. ok is false if ip is not an IPv4 address.
func FromIP(ip net.IP, port uint16) (e Endpoint, ok bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return e, false
	}
	copy(e.IP[:], ip4)
	e.Port = port
	return e, true
}

// Addr returns a net.TCPAddr from Endpoint.
func (e Endpoint) Addr() *net.TCPAddr {
	ip := make(net.IP, net.IPv4len)
	copy(ip, e.IP[:])
	return &net.TCPAddr{IP: ip, Port: int(e.Port)}
}

// WithPort returns a copy of e with port replaced.
func (e Endpoint) WithPort(port uint16) Endpoint {
	e.Port = port
	return e
}

// SameIP reports whether both endpoints have the same address, regardless of port.
func (e Endpoint) SameIP(o Endpoint) bool {
	return e.IP == o.IP
}

func (e Endpoint) String() string {
	return net.IP(e.IP[:]).String() + ":" + strconv.Itoa(int(e.Port))
}

// Compare orders endpoints by their compact encoding, as unsigned bytes.
// The result is -1, 0 or +1.
func Compare(a, b Endpoint) int {
	for i := range a.IP {
		switch {
		case a.IP[i] < b.IP[i]:
			return -1
		case a.IP[i] > b.IP[i]:
			return 1
		}
	}
	switch {
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b Endpoint) bool {
	return Compare(a, b) < 0
}

// AppendCompact appends the 6-byte compact form of e to b.
func (e Endpoint) AppendCompact(b []byte) []byte {
	b = append(b, e.IP[:]...)
	return binary.BigEndian.AppendUint16(b, e.Port)
}

// MarshalBinary returns the bytes.
func (e Endpoint) MarshalBinary() ([]byte, error) {
	return e.AppendCompact(make([]byte, 0, Size)), nil
}

// UnmarshalBinary reads bytes from a slice into the Endpoint.
func (e *Endpoint) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return errors.New("invalid compact peer length")
	}
	copy(e.IP[:], data[:net.IPv4len])
	e.Port = binary.BigEndian.Uint16(data[net.IPv4len:])
	return nil
}

// EncodeCompact concatenates compact forms of endpoints in given order.
func EncodeCompact(endpoints []Endpoint) []byte {
	b := make([]byte, 0, len(endpoints)*Size)
	for _, e := range endpoints {
		b = e.AppendCompact(b)
	}
	return b
}

// DecodeCompact parses a list of endpoints in compact form.
func DecodeCompact(b []byte) ([]Endpoint, error) {
	if len(b)%Size != 0 {
		return nil, ErrInvalidLength
	}
	endpoints := make([]Endpoint, 0, len(b)/Size)
	for i := 0; i < len(b); i += Size {
		var e Endpoint
		if err := e.UnmarshalBinary(b[i : i+Size]); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

// MustParse returns the endpoint for a "host:port" string. It panics on error.
// It is intended for tests and constant tables.
func MustParse(s string) Endpoint {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		panic(err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		panic(err)
	}
	e, ok := FromIP(net.ParseIP(host), uint16(p))
	if !ok {
		panic("not an IPv4 address: " + host)
	}
	return e
}
