// Package benc wraps zeebo/bencode with a typed view of decoded values.
//
// Incoming extension messages are attacker controlled, so fields are never
// decoded straight into structs: a single field of the wrong type would fail
// the whole message. Value keeps the raw encoding of every field and decodes
// it only when asked for a specific type.
package benc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

var (
	// ErrMalformed is returned when the input is not valid bencode.
	ErrMalformed = errors.New("malformed bencode")
	// ErrUnexpectedType is returned when a value does not have the requested type.
	ErrUnexpectedType = errors.New("unexpected bencode type")
)

// Kind is the type of a bencoded value.
type Kind uint8

// Bencode value kinds.
const (
	Invalid Kind = iota
	Integer
	String
	List
	Dictionary
)

var kindStrings = [...]string{
	Invalid:    "invalid",
	Integer:    "integer",
	String:     "string",
	List:       "list",
	Dictionary: "dictionary",
}

func (k Kind) String() string {
	if int(k) >= len(kindStrings) {
		return "invalid"
	}
	return kindStrings[k]
}

// Value is a single decoded bencode value.
type Value struct {
	raw bencode.RawMessage
}

// Decode validates the structure of b and returns it as a Value.
// Integers are not parsed until AsInt is called, so an out of range integer
// only affects the field it belongs to. b must hold exactly one value.
func Decode(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	var raw bencode.RawMessage
	dec := bencode.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if n := dec.BytesParsed(); n != len(b) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-n)
	}
	return Value{raw: raw}, nil
}

// DecodeDict decodes b and requires the top-level value to be a dictionary.
func DecodeDict(b []byte) (Dict, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return v.AsDict()
}

// Kind returns the type of the value.
func (v Value) Kind() Kind {
	if len(v.raw) == 0 {
		return Invalid
	}
	switch c := v.raw[0]; {
	case c == 'i':
		return Integer
	case c == 'l':
		return List
	case c == 'd':
		return Dictionary
	case c >= '0' && c <= '9':
		return String
	}
	return Invalid
}

// Raw returns the encoded form of the value.
func (v Value) Raw() []byte {
	return v.raw
}

func (v Value) expect(k Kind) error {
	if got := v.Kind(); got != k {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedType, k, got)
	}
	return nil
}

// AsInt returns the value as an integer.
func (v Value) AsInt() (int64, error) {
	if err := v.expect(Integer); err != nil {
		return 0, err
	}
	var i int64
	if err := bencode.DecodeBytes(v.raw, &i); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return i, nil
}

// AsString returns the value as a byte string.
func (v Value) AsString() (string, error) {
	if err := v.expect(String); err != nil {
		return "", err
	}
	var s string
	if err := bencode.DecodeBytes(v.raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return s, nil
}

// AsDict returns the value as a dictionary.
func (v Value) AsDict() (Dict, error) {
	if err := v.expect(Dictionary); err != nil {
		return nil, err
	}
	var m map[string]bencode.RawMessage
	if err := bencode.DecodeBytes(v.raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	d := make(Dict, len(m))
	for k, raw := range m {
		d[k] = Value{raw: raw}
	}
	return d, nil
}

// Dict is a decoded dictionary. Lookups report false for missing keys and for
// values of a different type.
type Dict map[string]Value

// Int returns the integer at key.
func (d Dict) Int(key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	i, err := v.AsInt()
	return i, err == nil
}

// String returns the byte string at key.
func (d Dict) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, err := v.AsString()
	return s, err == nil
}

// Dict returns the dictionary at key.
func (d Dict) Dict(key string) (Dict, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	sub, err := v.AsDict()
	return sub, err == nil
}

// Codec serializes outgoing messages and parses incoming ones.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(b []byte) (Value, error)
}

// Bencode is the Codec used on the wire.
var Bencode Codec = bencodeCodec{}

type bencodeCodec struct{}

func (bencodeCodec) Encode(v interface{}) ([]byte, error) { return bencode.EncodeBytes(v) }
func (bencodeCodec) Decode(b []byte) (Value, error)       { return Decode(b) }
