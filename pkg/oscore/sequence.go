package oscore

import (
	"fmt"
	"sync/atomic"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// MaxSequenceNumber is the largest sender sequence number (40 bits).
const MaxSequenceNumber = 1<<40 - 1

// ErrSequenceExhausted is returned when no sender sequence number is left.
// The context must be replaced.
var ErrSequenceExhausted = fmt.Errorf("%w: sender sequence numbers exhausted", protoerr.ErrInvalidContext)

// SequenceCounter hands out sender sequence numbers.
type SequenceCounter struct {
	next atomic.Uint64
}

// NewSequenceCounter creates a counter whose first number is start.
func NewSequenceCounter(start uint64) *SequenceCounter {
	c := &SequenceCounter{}
	c.next.Store(start)
	return c
}

// Next consumes and returns the next sequence number.
func (c *SequenceCounter) Next() (uint64, error) {
	for {
		cur := c.next.Load()
		if cur > MaxSequenceNumber {
			return 0, ErrSequenceExhausted
		}
		if c.next.CompareAndSwap(cur, cur+1) {
			return cur, nil
		}
	}
}

// Peek returns the number the next call to Next will return.
func (c *SequenceCounter) Peek() uint64 {
	return c.next.Load()
}

// Release gives seq back if it is the most recently consumed number.
// It reports whether the counter moved.
func (c *SequenceCounter) Release(seq uint64) bool {
	return c.next.CompareAndSwap(seq+1, seq)
}

// encodePIV returns the shortest big-endian encoding of seq.
// Zero encodes as a single zero byte.
func encodePIV(seq uint64) []byte {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(seq)
		seq >>= 8
	}
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return append([]byte(nil), buf[i:]...)
}

func decodePIV(piv []byte) (uint64, error) {
	if len(piv) == 0 || len(piv) > pivPadLen {
		return 0, fmt.Errorf("%w: partial IV of %d bytes", protoerr.ErrDecode, len(piv))
	}
	var seq uint64
	for _, b := range piv {
		seq = seq<<8 | uint64(b)
	}
	return seq, nil
}
