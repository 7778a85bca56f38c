package coap

import (
	"fmt"

	"github.com/plgd-dev/go-coap/v3/net/blockwise"
)

// Block is a Block1/Block2 option value.
type Block struct {
	Num  uint32
	More bool
	SZX  uint8
}

// MaxSZX is the largest size exponent (1024-byte blocks).
const MaxSZX uint8 = 6

// Size returns the block size in bytes.
func (b Block) Size() int {
	return 1 << (b.SZX + 4)
}

// Offset returns the byte offset of the block.
func (b Block) Offset() int {
	return int(b.Num) * b.Size()
}

// Encode returns the option value.
func (b Block) Encode() (uint32, error) {
	if b.SZX > MaxSZX {
		return 0, fmt.Errorf("%w: block size exponent %d", ErrMalformedOptions, b.SZX)
	}
	v, err := blockwise.EncodeBlockOption(blockwise.SZX(b.SZX), int64(b.Num), b.More)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	return v, nil
}

// ParseBlock decodes a block option value. The BERT exponent is rejected.
func ParseBlock(v uint32) (Block, error) {
	szx, num, more, err := blockwise.DecodeBlockOption(v)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	if uint8(szx) > MaxSZX {
		return Block{}, fmt.Errorf("%w: reserved block size exponent", ErrMalformedOptions)
	}
	return Block{Num: uint32(num), More: more, SZX: uint8(szx)}, nil
}

// SetBlock2 replaces the Block2 option of opts.
func SetBlock2(opts Options, b Block) (Options, error) {
	v, err := b.Encode()
	if err != nil {
		return opts, err
	}
	return SetUint(opts, Block2, v), nil
}

// Slice returns block num of payload with the given size exponent and
// reports whether more blocks follow.
func Slice(payload []byte, num uint32, szx uint8) ([]byte, bool) {
	size := 1 << (szx + 4)
	start := int(num) * size
	if start >= len(payload) {
		return nil, false
	}
	end := start + size
	if end >= len(payload) {
		return payload[start:], false
	}
	return payload[start:end], true
}
