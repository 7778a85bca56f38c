package transport

import (
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

func encodeMessage(kind wire.EnvelopeKind, id uint32, m *coap.Message) ([]byte, error) {
	opts, err := coap.MarshalOptions(m.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrInvalidEnvelope, err)
	}
	return wire.EncodeEnvelope(&wire.Envelope{
		Kind:    kind,
		ID:      id,
		Code:    uint8(m.Code),
		Token:   m.Token,
		Options: opts,
		Payload: m.Payload,
	})
}

func encodeControl(kind wire.EnvelopeKind, id uint32) ([]byte, error) {
	return wire.EncodeEnvelope(&wire.Envelope{Kind: kind, ID: id})
}

func decodeMessage(env *wire.Envelope) (*coap.Message, error) {
	opts, rest, err := coap.UnmarshalOptions(env.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrInvalidEnvelope, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: payload inside options", wire.ErrInvalidEnvelope)
	}
	return &coap.Message{
		Code:    coap.Code(env.Code),
		Token:   env.Token,
		Options: opts,
		Payload: env.Payload,
	}, nil
}
