package coap

import (
	"fmt"
	"strings"
)

// Message is a CoAP request or response independent of its transport
// framing.
type Message struct {
	Code    Code
	Token   []byte
	Options Options
	Payload []byte
}

// NewRequest creates a request for path.
func NewRequest(code Code, path string) *Message {
	m := &Message{Code: code}
	path = strings.TrimPrefix(path, "/")
	if opts, _, err := m.Options.SetPath(make([]byte, len(path)), path); err == nil {
		m.Options = opts
	}
	return m
}

// NewResponse creates a response carrying the request token.
func NewResponse(req *Message, code Code, payload []byte) *Message {
	return &Message{
		Code:    code,
		Token:   append([]byte(nil), req.Token...),
		Payload: payload,
	}
}

// Path returns the request path, "/" when no Uri-Path option is present.
func (m *Message) Path() string {
	p, err := m.Options.Path()
	if err != nil || p == "" {
		return "/"
	}
	return p
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	return &Message{
		Code:    m.Code,
		Token:   append([]byte(nil), m.Token...),
		Options: CloneOptions(m.Options),
		Payload: append([]byte(nil), m.Payload...),
	}
}

// String returns a short diagnostic form.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v token=%x", m.Code, m.Token)
	for _, opt := range m.Options {
		fmt.Fprintf(&b, " %v=%x", opt.ID, opt.Value)
	}
	fmt.Fprintf(&b, " payload=%dB", len(m.Payload))
	return b.String()
}
