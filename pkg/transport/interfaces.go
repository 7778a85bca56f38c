package transport

import (
	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
)

// Handler answers one request. A nil response sends nothing back.
type Handler interface {
	Handle(req *coap.Message) *coap.Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *coap.Message) *coap.Message

// Handle calls f.
func (f HandlerFunc) Handle(req *coap.Message) *coap.Message {
	return f(req)
}

// FrameReadWriter provides length-prefixed frame I/O.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var (
	_ exchange.Transport = (*Client)(nil)
	_ FrameReadWriter    = (*Framer)(nil)
)
