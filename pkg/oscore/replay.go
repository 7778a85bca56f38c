package oscore

import (
	"fmt"
	"sync"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// DefaultReplayWindowSize is the number of sequence numbers tracked.
const DefaultReplayWindowSize = 32

// ReplayWindow tracks accepted recipient sequence numbers.
//
// The window covers [base, base+size). Numbers below base are rejected, as
// are numbers inside the window that were already marked. Marking a number
// beyond the window slides it forward.
type ReplayWindow struct {
	mu   sync.Mutex
	size uint64
	base uint64
	seen uint64 // bit i set: base+i accepted
}

// NewReplayWindow creates an empty window. Sizes outside 1..64 use
// DefaultReplayWindowSize.
func NewReplayWindow(size int) *ReplayWindow {
	if size <= 0 || size > 64 {
		size = DefaultReplayWindowSize
	}
	return &ReplayWindow{size: uint64(size)}
}

// Check reports whether seq would be accepted. It does not mark it.
func (w *ReplayWindow) Check(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkLocked(seq)
}

func (w *ReplayWindow) checkLocked(seq uint64) error {
	if seq < w.base {
		return fmt.Errorf("%w: %d below window base %d", protoerr.ErrReplay, seq, w.base)
	}
	if off := seq - w.base; off < w.size && w.seen&(1<<off) != 0 {
		return fmt.Errorf("%w: %d already accepted", protoerr.ErrReplay, seq)
	}
	return nil
}

// Mark records seq as accepted.
func (w *ReplayWindow) Mark(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkLocked(seq); err != nil {
		return err
	}
	if top := w.base + w.size - 1; seq > top {
		shift := seq - top
		if shift >= w.size {
			w.seen = 0
		} else {
			w.seen >>= shift
		}
		w.base += shift
	}
	w.seen |= 1 << (seq - w.base)
	return nil
}

// State returns the window base and the bitmap of accepted numbers.
func (w *ReplayWindow) State() (base uint64, seen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base, w.seen
}

// Size returns the window capacity.
func (w *ReplayWindow) Size() int {
	return int(w.size)
}
