package oscore

import (
	"errors"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// CommitPolicy decides what happens to a consumed sequence number once the
// outcome of sending the protected message is known.
type CommitPolicy interface {
	Commit(counter *SequenceCounter, seq uint64, sendErr error)
}

// ConsumeOnProtect keeps every number Protect handed out, whatever the
// send outcome. A number is never reused, even when the peer may not have
// seen it.
type ConsumeOnProtect struct{}

// Commit does nothing.
func (ConsumeOnProtect) Commit(*SequenceCounter, uint64, error) {}

// ReleaseUnsent gives a number back when the transport reports that the
// request never left the host and no later number was consumed.
type ReleaseUnsent struct{}

// Commit releases seq when sendErr wraps protoerr.ErrNotSent.
func (ReleaseUnsent) Commit(counter *SequenceCounter, seq uint64, sendErr error) {
	if errors.Is(sendErr, protoerr.ErrNotSent) {
		counter.Release(seq)
	}
}
