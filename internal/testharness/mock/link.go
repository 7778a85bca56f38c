package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// Link connects a client to a Device and injects transport faults.
type Link struct {
	device *Device

	mu        sync.Mutex
	sent      []*coap.Message
	down      bool
	dropCount int
}

// NewLink creates a link to d.
func NewLink(d *Device) *Link {
	return &Link{device: d}
}

// SetDown makes every exchange fail before the request is sent.
func (l *Link) SetDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

// DropResponses makes the next n exchanges reach the device but lose the
// response.
func (l *Link) DropResponses(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropCount = n
}

// Exchange implements the exchange transport contract.
func (l *Link) Exchange(ctx context.Context, peer string, req *coap.Message) (*coap.Message, error) {
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", protoerr.ErrNotSent, ErrLinkDown)
	}
	l.sent = append(l.sent, req.Clone())
	drop := l.dropCount > 0
	if drop {
		l.dropCount--
	}
	l.mu.Unlock()

	resp, err := l.device.Exchange(ctx, peer, req)
	if err != nil {
		return nil, err
	}
	if drop {
		return nil, ErrResponseLost
	}
	return resp, nil
}

// Sent returns copies of all requests that went through the link.
func (l *Link) Sent() []*coap.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*coap.Message, len(l.sent))
	for i, m := range l.sent {
		out[i] = m.Clone()
	}
	return out
}

// Resend delivers the i-th sent request to the device again, as an
// attacker replaying captured traffic would.
func (l *Link) Resend(i int) *coap.Message {
	l.mu.Lock()
	req := l.sent[i].Clone()
	l.mu.Unlock()
	return l.device.Handle(req)
}
