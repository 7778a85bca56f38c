// Package mock provides an in-memory constrained device for tests: an EDHOC
// responder with OSCORE-protected resources and a small authorization model.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/oscore"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// EDHOCPath is the resource receiving message_1.
const EDHOCPath = "/.well-known/edhoc"

// edhocTrue is the CBOR true prefixed to message_1 in CoAP requests.
const edhocTrue = 0xf5

// Poem is served on /poem, split into blocks.
const Poem = `Über allen Gipfeln
Ist Ruh',
In allen Wipfeln
Spürest du
Kaum einen Hauch;
Die Vögelein schweigen im Walde.
Warte nur, balde
Ruhest du auch.
`

// StdoutText is served on /stdout to authorized peers.
const StdoutText = "device booted\nnetwork up\n"

// Method bits of an AIF scope entry (RFC 9237).
const (
	MethodGET   = 1 << 0
	MethodPOST  = 1 << 1
	MethodPUT   = 1 << 2
	MethodFETCH = 1 << 4
)

// Scope maps resource paths to permitted method bits.
type Scope map[string]uint

// Allows reports whether code on path is permitted.
func (s Scope) Allows(path string, code coap.Code) bool {
	if !coap.IsRequest(code) {
		return false
	}
	return s[path]&(1<<(uint(code)-1)) != 0
}

// AdminScope is granted to initiators known by reference.
func AdminScope() Scope {
	return Scope{"/stdout": MethodGET | MethodFETCH, "/.well-known/core": MethodGET, "/poem": MethodGET}
}

// GuestScope is granted to initiators that sent an unknown credential by value.
func GuestScope() Scope {
	return Scope{"/.well-known/core": MethodGET, "/poem": MethodGET}
}

// Session is the state of one peer after the handshake.
type Session struct {
	Context *oscore.Context
	Peer    *cred.Credential
	Trusted bool
	Scope   Scope
}

// Handler serves a decrypted request. It returns the full representation;
// the device applies Block2.
type Handler func(req *coap.Message, s *Session) *coap.Message

// Message records a request seen by the device.
type Message struct {
	Path      string
	Code      coap.Code
	Protected bool
	EDHOC     bool
	Status    coap.Code
}

// DeviceHandlers holds callbacks for device events.
type DeviceHandlers struct {
	// OnHandshake is called when message_3 was verified.
	OnHandshake func(peer *cred.Credential, trusted bool)
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithSuites sets the cipher suites the device accepts.
func WithSuites(suites ...int) DeviceOption {
	return func(d *Device) { d.suites = suites }
}

// WithConnID makes the device pick cR for every handshake.
func WithConnID(cR edhoc.ConnID) DeviceOption {
	return func(d *Device) { d.fixedCR = cR }
}

// WithTamperedMAC2 makes message_2 carry a wrong MAC_2.
func WithTamperedMAC2() DeviceOption {
	return func(d *Device) { d.tamperMAC2 = true }
}

// WithCredentialByValue makes message_2 carry the device CCS by value.
func WithCredentialByValue() DeviceOption {
	return func(d *Device) { d.credByValue = true }
}

// WithBlockSZX sets the largest Block2 size exponent the device sends.
func WithBlockSZX(szx uint8) DeviceOption {
	return func(d *Device) { d.blockSZX = szx }
}

// WithResource adds or replaces a resource.
func WithResource(path string, h Handler) DeviceOption {
	return func(d *Device) { d.resources[path] = h }
}

// Device is an in-memory constrained peer. It implements the exchange
// transport contract directly, so it can stand in for the network.
type Device struct {
	ID string

	// Handlers are callbacks for device events.
	Handlers DeviceHandlers

	identity   *cred.Identity
	authorized *cred.Store
	suites     []int
	resources  map[string]Handler

	fixedCR     edhoc.ConnID
	tamperMAC2  bool
	credByValue bool
	blockSZX    uint8

	// ReceivedMessages tracks requests received by the device.
	ReceivedMessages []Message

	mu       sync.RWMutex
	pending  map[string]*Responder
	sessions map[string]*Session
	nextCR   byte
}

// NewDevice creates a device with the trace-2 responder identity that
// trusts the trace-2 initiator by reference.
func NewDevice(id string, opts ...DeviceOption) *Device {
	authorized, err := cred.NewStore(InitiatorIdentity().Credential)
	if err != nil {
		panic(err)
	}
	d := &Device{
		ID:         id,
		identity:   ResponderIdentity(),
		authorized: authorized,
		suites:     []int{edhoc.SuiteCCM64},
		resources:  make(map[string]Handler),
		blockSZX:   2,
		pending:    make(map[string]*Responder),
		sessions:   make(map[string]*Session),
	}
	d.resources["/.well-known/core"] = d.serveCore
	d.resources["/poem"] = serveText(Poem)
	d.resources["/stdout"] = serveText(StdoutText)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Exchange handles one request synchronously.
func (d *Device) Exchange(ctx context.Context, _ string, req *coap.Message) (*coap.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Handle(req), nil
}

// Handle processes a request and returns the response.
func (d *Device) Handle(req *coap.Message) *coap.Message {
	record := Message{Path: req.Path(), Code: req.Code}
	var resp *coap.Message

	switch {
	case req.Options.HasOption(coap.OSCORE):
		record.Protected = true
		record.EDHOC = req.Options.HasOption(coap.EDHOC)
		resp = d.handleProtected(req, &record)
	case record.Path == EDHOCPath:
		resp = d.handleMessage1(req)
	default:
		resp = d.serveUnprotected(req)
	}

	record.Status = resp.Code
	d.RecordMessage(record)
	return resp
}

func (d *Device) handleMessage1(req *coap.Message) *coap.Message {
	if req.Code != coap.POST {
		return coap.NewResponse(req, coap.MethodNotAllowed, nil)
	}
	if len(req.Payload) < 2 || req.Payload[0] != edhocTrue {
		return coap.NewResponse(req, coap.BadRequest, []byte("expected message_1"))
	}
	message1 := req.Payload[1:]

	d.mu.Lock()
	defer d.mu.Unlock()

	m1, err := edhoc.ParseMessage1(message1)
	if err != nil {
		return coap.NewResponse(req, coap.BadRequest, []byte(err.Error()))
	}

	cR := d.pickConnIDLocked(m1.CI)
	r := NewResponder(d.identity, d.authorized, d.suites, cR)
	r.TamperMAC2 = d.tamperMAC2
	if d.credByValue {
		r.SendCredentialByValue()
	}

	message2, err := r.ProcessMessage1(message1)
	if err != nil {
		return coap.NewResponse(req, coap.BadRequest, message2)
	}
	d.pending[string(cR)] = r
	return coap.NewResponse(req, coap.Changed, message2)
}

// pickConnIDLocked returns an identifier unused by other sessions and
// different from cI.
func (d *Device) pickConnIDLocked(cI edhoc.ConnID) edhoc.ConnID {
	if d.fixedCR != nil {
		return d.fixedCR
	}
	for i := 0; i < 24; i++ {
		cand := edhoc.ConnID{(d.nextCR + byte(i)) % 24}
		if cand.Equal(cI) {
			continue
		}
		if _, used := d.sessions[string(cand)]; used {
			continue
		}
		if _, used := d.pending[string(cand)]; used {
			continue
		}
		d.nextCR = cand[0] + 1
		return cand
	}
	return edhoc.ConnID{0x37}
}

func (d *Device) handleProtected(req *coap.Message, record *Message) *coap.Message {
	raw, _ := req.Options.GetBytes(coap.OSCORE)
	optVal, err := oscore.ParseOptionValue(raw)
	if err != nil || optVal.KID == nil {
		return coap.NewResponse(req, coap.BadOption, nil)
	}
	kid := string(optVal.KID)

	if req.Options.HasOption(coap.EDHOC) {
		stripped, err := d.completeHandshake(kid, req)
		if err != nil {
			return coap.NewResponse(req, coap.BadRequest, []byte(err.Error()))
		}
		req = stripped
	}

	d.mu.RLock()
	session, ok := d.sessions[kid]
	d.mu.RUnlock()
	if !ok {
		return coap.NewResponse(req, coap.Unauthorized, []byte("security context not found"))
	}

	inner, corr, err := session.Context.Unprotect(req, nil)
	if err != nil {
		return coap.NewResponse(req, coap.Unauthorized, []byte(err.Error()))
	}
	record.Path = inner.Path()
	record.Code = inner.Code

	var resp *coap.Message
	if !session.Scope.Allows(inner.Path(), inner.Code) {
		resp = coap.NewResponse(inner, coap.Forbidden, []byte("not authorized"))
	} else {
		resp = d.dispatch(inner, session)
	}

	out, _, err := session.Context.Protect(resp, corr)
	if err != nil {
		return coap.NewResponse(req, coap.InternalServerError, nil)
	}
	return out
}

// completeHandshake processes the message_3 prefix of an EDHOC+OSCORE
// request and installs the session. It returns the request without the
// prefix and the EDHOC option.
func (d *Device) completeHandshake(kid string, req *coap.Message) (*coap.Message, error) {
	var ct3 []byte
	rest, err := wire.UnmarshalFirst(req.Payload, &ct3)
	if err != nil {
		return nil, fmt.Errorf("message_3 prefix: %w", err)
	}
	message3 := req.Payload[:len(req.Payload)-len(rest)]

	stripped := req.Clone()
	stripped.Options = stripped.Options.Remove(coap.EDHOC)
	stripped.Payload = append([]byte(nil), rest...)

	d.mu.Lock()
	r, ok := d.pending[kid]
	if !ok {
		_, established := d.sessions[kid]
		d.mu.Unlock()
		if established {
			// A concurrent request already carried message_3.
			return stripped, nil
		}
		return nil, fmt.Errorf("no handshake for C_R %x", kid)
	}
	delete(d.pending, kid)
	d.mu.Unlock()

	if err := r.ProcessMessage3(message3); err != nil {
		return nil, err
	}
	cI, cR := r.ConnIDs()
	ctx, err := oscore.Derive(r, r.Suite(), cR, cI)
	if err != nil {
		return nil, err
	}

	peer, trusted := r.Peer()
	scope := GuestScope()
	if trusted {
		scope = AdminScope()
	}
	if d.Handlers.OnHandshake != nil {
		d.Handlers.OnHandshake(peer, trusted)
	}

	d.mu.Lock()
	d.sessions[kid] = &Session{Context: ctx, Peer: peer, Trusted: trusted, Scope: scope}
	d.mu.Unlock()
	return stripped, nil
}

func (d *Device) dispatch(req *coap.Message, s *Session) *coap.Message {
	h, ok := d.resources[req.Path()]
	if !ok {
		return coap.NewResponse(req, coap.NotFound, nil)
	}
	resp := h(req, s)
	return d.applyBlock2(req, resp)
}

func (d *Device) applyBlock2(req, resp *coap.Message) *coap.Message {
	szx := d.blockSZX
	num := uint32(0)
	v, err := req.Options.GetUint32(coap.Block2)
	requested := err == nil
	if requested {
		b, err := coap.ParseBlock(v)
		if err != nil {
			return coap.NewResponse(req, coap.BadOption, nil)
		}
		if b.SZX < szx {
			szx = b.SZX
		}
		num = uint32(b.Offset() >> (szx + 4))
	}

	if !requested && len(resp.Payload) <= 1<<(szx+4) {
		return resp
	}

	chunk, more := coap.Slice(resp.Payload, num, szx)
	if chunk == nil && num > 0 {
		return coap.NewResponse(req, coap.BadOption, nil)
	}
	opts, err := coap.SetBlock2(resp.Options, coap.Block{Num: num, More: more, SZX: szx})
	if err != nil {
		return coap.NewResponse(req, coap.BadOption, nil)
	}
	resp.Payload = chunk
	resp.Options = opts
	return resp
}

func (d *Device) serveCore(req *coap.Message, _ *Session) *coap.Message {
	resp := coap.NewResponse(req, coap.Content, []byte(`</poem>,</stdout>,</.well-known/edhoc>;rt="core.edhoc"`))
	resp.Options = coap.SetUint(resp.Options, coap.ContentFormat, 40)
	return resp
}

func (d *Device) serveUnprotected(req *coap.Message) *coap.Message {
	if req.Path() == "/.well-known/core" && req.Code == coap.GET {
		return d.serveCore(req, nil)
	}
	return coap.NewResponse(req, coap.Unauthorized, nil)
}

func serveText(text string) Handler {
	return func(req *coap.Message, _ *Session) *coap.Message {
		resp := coap.NewResponse(req, coap.Content, []byte(text))
		resp.Options = coap.SetUint(resp.Options, coap.ContentFormat, 0)
		return resp
	}
}

// RecordMessage records a received message.
func (d *Device) RecordMessage(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReceivedMessages = append(d.ReceivedMessages, msg)
}

// GetMessages returns all received messages.
func (d *Device) GetMessages() []Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]Message, len(d.ReceivedMessages))
	copy(result, d.ReceivedMessages)
	return result
}

// ClearMessages clears all received messages.
func (d *Device) ClearMessages() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReceivedMessages = d.ReceivedMessages[:0]
}

// Session returns the session established under cR.
func (d *Device) Session(cR edhoc.ConnID) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[string(cR)]
	return s, ok
}

// SessionCount returns the number of established sessions.
func (d *Device) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
