package pex

import (
	"errors"

	"github.com/cenkalti/rainpex/internal/benc"
)

var (
	// ErrEncoding is returned when an outgoing message cannot be built.
	// The state of the connection is unchanged and the round can be retried.
	ErrEncoding = errors.New("cannot encode message")
	// ErrMalformedEncoding is returned when a received message is not valid bencode.
	ErrMalformedEncoding = benc.ErrMalformed
	// ErrUnexpectedType is returned when a received message is not a dictionary.
	ErrUnexpectedType = benc.ErrUnexpectedType
)
