package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrSequenceEnd is returned when reading past the last item of a sequence.
var ErrSequenceEnd = errors.New("end of CBOR sequence")

// MajorType is the CBOR major type of a data item (RFC 8949 Section 3.1).
type MajorType uint8

// CBOR major types.
const (
	MajorUint   MajorType = 0
	MajorNegInt MajorType = 1
	MajorBytes  MajorType = 2
	MajorText   MajorType = 3
	MajorArray  MajorType = 4
	MajorMap    MajorType = 5
	MajorTag    MajorType = 6
	MajorSimple MajorType = 7
)

// String returns the major type name.
func (m MajorType) String() string {
	switch m {
	case MajorUint:
		return "uint"
	case MajorNegInt:
		return "nint"
	case MajorBytes:
		return "bstr"
	case MajorText:
		return "tstr"
	case MajorArray:
		return "array"
	case MajorMap:
		return "map"
	case MajorTag:
		return "tag"
	case MajorSimple:
		return "simple"
	default:
		return "UNKNOWN"
	}
}

// EncodeSequence encodes each item and concatenates the results.
// A cbor.RawMessage item is copied verbatim.
func EncodeSequence(items ...any) ([]byte, error) {
	var out []byte
	for i, item := range items {
		if raw, ok := item.(cbor.RawMessage); ok {
			out = append(out, raw...)
			continue
		}
		data, err := Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("sequence item %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// MustEncodeSequence is EncodeSequence for items known to be encodable.
func MustEncodeSequence(items ...any) []byte {
	out, err := EncodeSequence(items...)
	if err != nil {
		panic(fmt.Sprintf("wire: %v", err))
	}
	return out
}

// SequenceReader iterates over the data items of a CBOR sequence.
type SequenceReader struct {
	rest []byte
	read int
}

// NewSequenceReader creates a reader over data.
func NewSequenceReader(data []byte) *SequenceReader {
	return &SequenceReader{rest: data}
}

// More reports whether another item is available.
func (r *SequenceReader) More() bool {
	return len(r.rest) > 0
}

// Peek returns the major type of the next item without consuming it.
func (r *SequenceReader) Peek() (MajorType, error) {
	if len(r.rest) == 0 {
		return 0, ErrSequenceEnd
	}
	return MajorType(r.rest[0] >> 5), nil
}

// Next decodes the next item into v.
func (r *SequenceReader) Next(v any) error {
	if len(r.rest) == 0 {
		return ErrSequenceEnd
	}
	rest, err := UnmarshalFirst(r.rest, v)
	if err != nil {
		return fmt.Errorf("sequence item %d: %w", r.read, err)
	}
	r.rest = rest
	r.read++
	return nil
}

// NextRaw returns the encoded bytes of the next item.
func (r *SequenceReader) NextRaw() (cbor.RawMessage, error) {
	var raw cbor.RawMessage
	if err := r.Next(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Remaining returns the bytes not consumed yet.
func (r *SequenceReader) Remaining() []byte {
	return r.rest
}

// Consumed returns the number of items decoded so far.
func (r *SequenceReader) Consumed() int {
	return r.read
}
