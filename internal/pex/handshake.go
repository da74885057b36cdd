package pex

import (
	"fmt"
	"net"

	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
)

// Capabilities are the local values sent in the extension handshake.
type Capabilities struct {
	// Client name and version.
	Version string
	// Extension ID the remote peer must use when sending ut_pex messages to us.
	PEXID uint8
	// Our listen port. Not sent if 0.
	PublicPort uint16
}

// NewCapabilities returns Capabilities from the configuration.
func NewCapabilities(cfg *config.Config) Capabilities {
	return Capabilities{
		Version:    cfg.ClientVersion,
		PEXID:      cfg.PEXExtensionID,
		PublicPort: cfg.PublicPort,
	}
}

// BuildHandshake encodes our extension handshake for the remote peer.
// ut_pex is not advertised for private torrents.
func (s *State) BuildHandshake(caps Capabilities) ([]byte, error) {
	msg := peerprotocol.ExtensionHandshakeMessage{
		M: make(map[string]uint8),
		V: caps.Version,
		P: caps.PublicPort,
	}
	if !s.private && caps.PEXID != 0 {
		msg.M[peerprotocol.ExtensionKeyPEX] = caps.PEXID
	}
	if s.remote.IP != ([net.IPv4len]byte{}) {
		msg.YourIP = string(s.remote.IP[:])
	}
	b, err := s.codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEncoding, err)
	}
	s.advertisedPort = caps.PublicPort
	return b, nil
}

// ParseHandshake parses the extension handshake of the remote peer.
// Missing or invalid optional keys are ignored.
func (s *State) ParseHandshake(b []byte) error {
	v, err := s.codec.Decode(b)
	if err != nil {
		return fmt.Errorf("extension handshake: %w", err)
	}
	d, err := v.AsDict()
	if err != nil {
		return fmt.Errorf("extension handshake: %w", err)
	}
	if m, ok := d.Dict("m"); ok {
		if id, ok := m.Int(peerprotocol.ExtensionKeyPEX); ok {
			s.supportID = 0
			if !s.private && id > 0 && id <= 0xff {
				s.supportID = uint8(id)
			}
		}
	}
	if port, ok := d.Int("p"); ok && port > 0 && port <= 0xffff {
		s.remotePort = uint16(port)
	}
	if name, ok := d.String("v"); ok {
		if len(name) > maxClientNameLength {
			name = name[:maxClientNameLength]
		}
		s.clientName = name
	}
	if ip, ok := d.String("yourip"); ok && len(ip) == net.IPv4len {
		s.externalIP = net.IP(ip)
	}
	return nil
}
