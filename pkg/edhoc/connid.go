package edhoc

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// ConnID is an EDHOC connection identifier (C_I or C_R).
type ConnID []byte

// IsInt reports whether the identifier is sent as a CBOR integer: a single
// byte that is itself the one-byte encoding of an integer in -24..23.
func (c ConnID) IsInt() bool {
	return isOneByteInt(c)
}

// Encode returns the CBOR data item of the identifier.
func (c ConnID) Encode() []byte {
	return encodeBstrOrInt(c)
}

// Equal reports whether two identifiers are the same byte string.
func (c ConnID) Equal(o ConnID) bool {
	return string(c) == string(o)
}

// String returns the identifier in hex.
func (c ConnID) String() string {
	return fmt.Sprintf("%x", []byte(c))
}

// RandomConnID picks a one-byte identifier that encodes as an integer in
// 0..23. A nil reader uses crypto/rand.
func RandomConnID(r io.Reader) (ConnID, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("%w: connection id: %v", protoerr.ErrCryptoFailure, err)
	}
	return ConnID{b[0] % 24}, nil
}

func isOneByteInt(b []byte) bool {
	return len(b) == 1 && (b[0] <= 0x17 || (b[0] >= 0x20 && b[0] <= 0x37))
}

func encodeBstrOrInt(b []byte) []byte {
	if isOneByteInt(b) {
		return []byte{b[0]}
	}
	if b == nil {
		b = []byte{}
	}
	return wire.MustMarshal(b)
}

// readBstrOrInt decodes an item sent with encodeBstrOrInt.
func readBstrOrInt(r *wire.SequenceReader) ([]byte, error) {
	major, err := r.Peek()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrDecode, err)
	}
	switch major {
	case wire.MajorUint, wire.MajorNegInt:
		raw, err := r.NextRaw()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protoerr.ErrDecode, err)
		}
		if len(raw) != 1 {
			return nil, fmt.Errorf("%w: integer identifier %x is not a one-byte encoding", protoerr.ErrDecode, []byte(raw))
		}
		return []byte{raw[0]}, nil
	case wire.MajorBytes:
		var b []byte
		if err := r.Next(&b); err != nil {
			return nil, fmt.Errorf("%w: %v", protoerr.ErrDecode, err)
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: expected int or bstr, got %s", protoerr.ErrDecode, major)
	}
}
