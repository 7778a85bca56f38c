package wire

import (
	"errors"
	"fmt"
)

// EnvelopeKind distinguishes the frames exchanged on a stream transport.
type EnvelopeKind uint8

const (
	// KindRequest carries a CoAP request.
	KindRequest EnvelopeKind = 1

	// KindResponse carries the CoAP response to the request with the same ID.
	KindResponse EnvelopeKind = 2

	// KindPing checks connection liveness.
	KindPing EnvelopeKind = 3

	// KindPong answers a ping with the same ID.
	KindPong EnvelopeKind = 4

	// KindClose announces that the sender is closing the connection.
	KindClose EnvelopeKind = 5
)

// String returns the kind name.
func (k EnvelopeKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// IsControl reports whether k is a liveness or close frame.
func (k EnvelopeKind) IsControl() bool {
	return k == KindPing || k == KindPong || k == KindClose
}

// ErrInvalidEnvelope is returned for envelopes that decode but make no sense.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is one frame of the stream transport. CoAP messages travel with
// their options in CoAP option encoding, so the envelope carries no CoAP
// semantics of its own.
//
// CBOR encoding:
//
//	{
//	  1: kind,      // uint8
//	  2: id,        // uint32: pairs a response (pong) with its request (ping)
//	  3: code,      // uint8: CoAP code
//	  4: token,     // bstr
//	  5: options,   // bstr: CoAP option encoding without payload marker
//	  6: payload    // bstr
//	}
type Envelope struct {
	Kind    EnvelopeKind `cbor:"1,keyasint"`
	ID      uint32       `cbor:"2,keyasint,omitempty"`
	Code    uint8        `cbor:"3,keyasint,omitempty"`
	Token   []byte       `cbor:"4,keyasint,omitempty"`
	Options []byte       `cbor:"5,keyasint,omitempty"`
	Payload []byte       `cbor:"6,keyasint,omitempty"`
}

// Validate checks the fields required by the envelope kind.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindRequest, KindResponse:
		if e.ID == 0 {
			return fmt.Errorf("%w: %s without id", ErrInvalidEnvelope, e.Kind)
		}
		if e.Code == 0 {
			return fmt.Errorf("%w: %s without code", ErrInvalidEnvelope, e.Kind)
		}
	case KindPing, KindPong, KindClose:
		if e.Code != 0 || len(e.Payload) > 0 {
			return fmt.Errorf("%w: %s with message content", ErrInvalidEnvelope, e.Kind)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// EncodeEnvelope encodes and validates e.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return Marshal(e)
}

// DecodeEnvelope decodes and validates one frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
