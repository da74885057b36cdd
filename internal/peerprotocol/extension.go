package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ExtensionIDHandshake is ID for extension handshake message.
	ExtensionIDHandshake = 0
	// ExtensionIDPEX is the default ID we advertise for PEX extension messages.
	ExtensionIDPEX = 1
)

// ExtensionKeyPEX is the key for the PEX extension in the "m" dictionary of the handshake.
const ExtensionKeyPEX = "ut_pex"

// MaxMessageLength is the largest extension message frame accepted by ReadMessage.
const MaxMessageLength = 1 << 20

// ExtensionMessage is extension to BitTorrent protocol.
// Payload holds the encoded dictionary and is interpreted by the handler of the extension.
type ExtensionMessage struct {
	ExtendedMessageID uint8
	Payload           []byte
}

// ID returns the type of a peer message.
func (m ExtensionMessage) ID() MessageID { return Extension }

// WriteTo writes the length prefixed message into w.
func (m ExtensionMessage) WriteTo(w io.Writer) (n int64, err error) {
	wc := &writerCounter{w: w}
	var header [6]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(m.Payload))+2)
	header[4] = byte(Extension)
	header[5] = m.ExtendedMessageID
	if _, err = wc.Write(header[:]); err != nil {
		return wc.count, err
	}
	_, err = wc.Write(m.Payload)
	return wc.count, err
}

// MarshalBinary returns the length prefixed message.
func (m ExtensionMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 6, 6+len(m.Payload))
	binary.BigEndian.PutUint32(b[:4], uint32(len(m.Payload))+2)
	b[4] = byte(Extension)
	b[5] = m.ExtendedMessageID
	return append(b, m.Payload...), nil
}

// UnmarshalBinary parses a message body without the length prefix.
func (m *ExtensionMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return errors.New("extension message too short")
	}
	if id := MessageID(data[0]); id != Extension {
		return fmt.Errorf("not an extension message: %s", id)
	}
	m.ExtendedMessageID = data[1]
	m.Payload = append([]byte(nil), data[2:]...)
	return nil
}

// ReadMessage reads a single length prefixed extension message from r.
func ReadMessage(r io.Reader) (ExtensionMessage, error) {
	var m ExtensionMessage
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return m, err
	}
	if length > MaxMessageLength {
		return m, fmt.Errorf("extension message too long: %d", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return m, err
	}
	err := m.UnmarshalBinary(data)
	return m, err
}

// ExtensionHandshakeMessage contains the information to do the extension handshake.
type ExtensionHandshakeMessage struct {
	M      map[string]uint8 `bencode:"m"`
	P      uint16           `bencode:"p,omitempty"`
	V      string           `bencode:"v"`
	YourIP string           `bencode:"yourip,omitempty"`
}

// ExtensionPEXMessage is the message for the PEX extension.
// Added and Dropped are lists of peers in compact form.
// AddedFlags has a flag byte for each peer in Added.
type ExtensionPEXMessage struct {
	Added      string `bencode:"added"`
	AddedFlags string `bencode:"added.f"`
	Dropped    string `bencode:"dropped"`
}

// PEX flags for each added peer.
const (
	PEXPrefersEncryption = 0x01
	PEXSeedUploadOnly    = 0x02
	PEXSupportsUTP       = 0x04
	PEXHolepunchSupport  = 0x08
	PEXOutgoingConn      = 0x10
)
