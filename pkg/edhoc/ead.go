package edhoc

import (
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// EAD is an External Authorization Data item.
type EAD struct {
	Label int
	Value []byte
}

// Critical reports whether the recipient must understand the item.
func (e EAD) Critical() bool {
	return e.Label < 0
}

// IsPadding reports whether the item is padding (label 0).
func (e EAD) IsPadding() bool {
	return e.Label == 0
}

// EncodeEAD encodes EAD items as a CBOR sequence.
func EncodeEAD(items []EAD) []byte {
	var out []byte
	for _, item := range items {
		out = append(out, wire.MustMarshal(item.Label)...)
		if item.Value != nil {
			out = append(out, wire.MustMarshal(item.Value)...)
		}
	}
	return out
}

// ReadEAD consumes the remaining items of r as EAD items.
// Padding is dropped.
func ReadEAD(r *wire.SequenceReader) ([]EAD, error) {
	var items []EAD
	for r.More() {
		major, _ := r.Peek()
		if major != wire.MajorUint && major != wire.MajorNegInt {
			return nil, fmt.Errorf("%w: EAD label is %s", protoerr.ErrDecode, major)
		}
		var item EAD
		if err := r.Next(&item.Label); err != nil {
			return nil, fmt.Errorf("%w: EAD label: %v", protoerr.ErrDecode, err)
		}
		if major, err := r.Peek(); err == nil && major == wire.MajorBytes {
			if err := r.Next(&item.Value); err != nil {
				return nil, fmt.Errorf("%w: EAD value: %v", protoerr.ErrDecode, err)
			}
		}
		if item.IsPadding() {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// checkCritical rejects critical items since no EAD is processed.
func checkCritical(items []EAD) error {
	for _, item := range items {
		if item.Critical() {
			return fmt.Errorf("%w: unsupported critical EAD item %d", protoerr.ErrDecode, -item.Label)
		}
	}
	return nil
}
