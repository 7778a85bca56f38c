package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncoding(t *testing.T) {
	e := &Envelope{Kind: KindRequest, ID: 7, Code: 1, Token: []byte{0xaa}, Payload: []byte("x")}
	data, err := EncodeEnvelope(e)
	require.NoError(t, err)

	// Integer keys in canonical order.
	assert.Equal(t, byte(0xa5), data[0])
	assert.Equal(t, []byte{0x01, 0x01, 0x02, 0x07}, data[1:5])

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"request", Envelope{Kind: KindRequest, ID: 1, Code: 1}, false},
		{"request without id", Envelope{Kind: KindRequest, Code: 1}, true},
		{"response without code", Envelope{Kind: KindResponse, ID: 1}, true},
		{"ping", Envelope{Kind: KindPing, ID: 3}, false},
		{"close", Envelope{Kind: KindClose}, false},
		{"pong with payload", Envelope{Kind: KindPong, Payload: []byte{1}}, true},
		{"unknown kind", Envelope{Kind: 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeEnvelopeGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = DecodeEnvelope(MustMarshal(map[int]int{1: 1}))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeKindString(t *testing.T) {
	assert.Equal(t, "request", KindRequest.String())
	assert.Equal(t, "pong", KindPong.String())
	assert.Equal(t, "unknown", EnvelopeKind(0).String())
	assert.True(t, KindClose.IsControl())
	assert.False(t, KindResponse.IsControl())
}
