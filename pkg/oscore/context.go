package oscore

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

const oscoreVersion = 1

// Correlation binds a response to its request. It is returned by Protect
// for requests and by Unprotect for incoming requests.
type Correlation struct {
	KID   []byte
	PIV   []byte
	Nonce []byte
}

// Sequence returns the request sequence number carried in the PIV.
func (c *Correlation) Sequence() (uint64, bool) {
	if c == nil || len(c.PIV) == 0 {
		return 0, false
	}
	seq, err := decodePIV(c.PIV)
	return seq, err == nil
}

type protectConfig struct {
	withoutKIDContext bool
	partialIV         bool
}

// ProtectOption adjusts a single Protect call.
type ProtectOption func(*protectConfig)

// WithoutKIDContext omits the kid context from the OSCORE option.
func WithoutKIDContext() ProtectOption {
	return func(c *protectConfig) {
		c.withoutKIDContext = true
	}
}

// WithPartialIV makes a response carry its own Partial IV instead of
// reusing the request nonce.
func WithPartialIV() ProtectOption {
	return func(c *protectConfig) {
		c.partialIV = true
	}
}

// Context is an OSCORE security context.
type Context struct {
	alg         Algorithm
	senderID    []byte
	recipientID []byte
	idContext   []byte

	sealer *Sealer
	seq    *SequenceCounter
	policy CommitPolicy

	// mu serializes check, decrypt and mark of incoming messages.
	mu     sync.Mutex
	window *ReplayWindow

	tail atomic.Pointer[[]byte]
}

// NewContext derives keys from master material.
func NewContext(p Params) (*Context, error) {
	if p.Algorithm.ID == 0 {
		p.Algorithm = AESCCM16_64_128
	}
	if bytes.Equal(p.SenderID, p.RecipientID) {
		return nil, fmt.Errorf("%w: sender and recipient ID are both %x", protoerr.ErrInvalidContext, p.SenderID)
	}
	if maxLen := p.Algorithm.MaxIDLen(); len(p.SenderID) > maxLen || len(p.RecipientID) > maxLen {
		return nil, fmt.Errorf("%w: IDs longer than %d bytes", protoerr.ErrInvalidContext, maxLen)
	}
	if len(p.MasterSecret) == 0 {
		return nil, fmt.Errorf("%w: empty master secret", protoerr.ErrInvalidContext)
	}

	senderKey, err := deriveKey(p, p.SenderID, "Key", p.Algorithm.KeyLen)
	if err != nil {
		return nil, err
	}
	recipientKey, err := deriveKey(p, p.RecipientID, "Key", p.Algorithm.KeyLen)
	if err != nil {
		return nil, err
	}
	commonIV, err := deriveKey(p, nil, "IV", p.Algorithm.NonceLen)
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(p.Algorithm, senderKey, recipientKey, commonIV)
	if err != nil {
		return nil, err
	}

	policy := p.CommitPolicy
	if policy == nil {
		policy = ConsumeOnProtect{}
	}

	c := &Context{
		alg:         p.Algorithm,
		senderID:    append([]byte{}, p.SenderID...),
		recipientID: append([]byte{}, p.RecipientID...),
		sealer:      sealer,
		seq:         NewSequenceCounter(0),
		policy:      policy,
		window:      NewReplayWindow(p.ReplayWindowSize),
	}
	if p.IDContext != nil {
		c.idContext = append([]byte{}, p.IDContext...)
	}
	if len(p.Tail) > 0 {
		tail := append([]byte(nil), p.Tail...)
		c.tail.Store(&tail)
	}
	return c, nil
}

// SenderID returns the sender ID.
func (c *Context) SenderID() []byte { return c.senderID }

// RecipientID returns the recipient ID.
func (c *Context) RecipientID() []byte { return c.recipientID }

// Algorithm returns the AEAD algorithm.
func (c *Context) Algorithm() Algorithm { return c.alg }

// SequenceNumber returns the next sender sequence number.
func (c *Context) SequenceNumber() uint64 { return c.seq.Peek() }

// HasPendingTail reports whether message_3 still waits to be sent.
func (c *Context) HasPendingTail() bool { return c.tail.Load() != nil }

// ReplayState returns the replay window base and bitmap.
func (c *Context) ReplayState() (base, seen uint64) { return c.window.State() }

// PostSequenceCommit reports the send outcome of the request that used seq.
func (c *Context) PostSequenceCommit(seq uint64, sendErr error) {
	c.policy.Commit(c.seq, seq, sendErr)
}

// Protect encrypts msg. A nil corr protects a request; otherwise msg is the
// response to the request described by corr.
func (c *Context) Protect(msg *coap.Message, corr *Correlation, opts ...ProtectOption) (*coap.Message, *Correlation, error) {
	var cfg protectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	isRequest := corr == nil

	inner, outer := coap.Split(msg.Options)
	outer = outer.Remove(coap.OSCORE).Remove(coap.EDHOC)
	plaintext, err := encodeInner(msg.Code, inner, msg.Payload)
	if err != nil {
		return nil, nil, err
	}

	var (
		optVal OptionValue
		nonce  []byte
	)
	if isRequest || cfg.partialIV {
		seq, err := c.seq.Next()
		if err != nil {
			return nil, nil, err
		}
		optVal.PIV = encodePIV(seq)
		nonce = c.sealer.Nonce(c.senderID, optVal.PIV)
	}

	outCode := coap.Changed
	if isRequest {
		outCode = coap.POST
		optVal.KID = c.senderID
		if c.idContext != nil && !cfg.withoutKIDContext {
			optVal.KIDContext = c.idContext
		}
		corr = &Correlation{KID: c.senderID, PIV: optVal.PIV, Nonce: nonce}
	} else if nonce == nil {
		nonce = corr.Nonce
	}

	encoded, err := optVal.Encode()
	if err != nil {
		return nil, nil, err
	}
	ciphertext := c.sealer.Seal(nonce, plaintext, c.aad(corr.KID, corr.PIV))

	out := &coap.Message{
		Code:    outCode,
		Token:   append([]byte(nil), msg.Token...),
		Options: outer.Set(coap.Option{ID: coap.OSCORE, Value: encoded}),
		Payload: ciphertext,
	}
	if tail := c.tail.Swap(nil); tail != nil {
		out.Options = out.Options.Set(coap.Option{ID: coap.EDHOC, Value: []byte{}})
		out.Payload = append(append([]byte(nil), *tail...), ciphertext...)
	}
	return out, corr, nil
}

// Unprotect decrypts msg. A nil corr unprotects a request; otherwise msg is
// the response to the request described by corr. The EDHOC option and the
// message_3 prefix must have been removed by the caller.
func (c *Context) Unprotect(msg *coap.Message, corr *Correlation) (*coap.Message, *Correlation, error) {
	raw, err := msg.Options.GetBytes(coap.OSCORE)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: no OSCORE option", protoerr.ErrDecode)
	}
	optVal, err := ParseOptionValue(raw)
	if err != nil {
		return nil, nil, err
	}
	isRequest := corr == nil

	var reqKID, reqPIV []byte
	if isRequest {
		if optVal.PIV == nil || optVal.KID == nil {
			return nil, nil, fmt.Errorf("%w: request without kid or partial IV", protoerr.ErrDecode)
		}
		if !bytes.Equal(optVal.KID, c.recipientID) {
			return nil, nil, fmt.Errorf("%w: no context for kid %x", protoerr.ErrAuthentication, optVal.KID)
		}
		reqKID, reqPIV = optVal.KID, optVal.PIV
	} else {
		reqKID, reqPIV = corr.KID, corr.PIV
	}

	var (
		seq   uint64
		nonce []byte
	)
	hasPIV := optVal.PIV != nil
	if hasPIV {
		if seq, err = decodePIV(optVal.PIV); err != nil {
			return nil, nil, err
		}
		nonce = c.sealer.Nonce(c.recipientID, optVal.PIV)
	} else {
		nonce = corr.Nonce
	}
	aad := c.aad(reqKID, reqPIV)

	c.mu.Lock()
	if hasPIV {
		if err := c.window.Check(seq); err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
	}
	plaintext, err := c.sealer.Open(nonce, msg.Payload, aad)
	if err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}
	if hasPIV {
		if err := c.window.Mark(seq); err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
	}
	c.mu.Unlock()

	code, inner, payload, err := decodeInner(plaintext)
	if err != nil {
		return nil, nil, err
	}

	_, outer := coap.Split(msg.Options)
	options := outer.Remove(coap.OSCORE).Remove(coap.EDHOC)
	for _, opt := range inner {
		options = options.Add(opt)
	}

	if isRequest {
		corr = &Correlation{KID: reqKID, PIV: reqPIV, Nonce: nonce}
	}
	return &coap.Message{
		Code:    code,
		Token:   append([]byte(nil), msg.Token...),
		Options: options,
		Payload: payload,
	}, corr, nil
}

// aad builds the Enc_structure over external_aad
// [version, [alg], request_kid, request_piv, options].
func (c *Context) aad(kid, piv []byte) []byte {
	external := wire.MustMarshal([]any{
		oscoreVersion,
		[]int{c.alg.ID},
		nonNil(kid),
		nonNil(piv),
		[]byte{},
	})
	return wire.MustMarshal([]any{"Encrypt0", []byte{}, external})
}

func encodeInner(code coap.Code, opts coap.Options, payload []byte) ([]byte, error) {
	encoded, err := coap.MarshalOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: inner options: %v", protoerr.ErrDecode, err)
	}
	out := append([]byte{byte(code)}, encoded...)
	if len(payload) > 0 {
		out = append(out, coap.PayloadMarker)
		out = append(out, payload...)
	}
	return out, nil
}

func decodeInner(plaintext []byte) (coap.Code, coap.Options, []byte, error) {
	if len(plaintext) == 0 {
		return 0, nil, nil, fmt.Errorf("%w: empty plaintext", protoerr.ErrDecode)
	}
	opts, payload, err := coap.UnmarshalOptions(plaintext[1:])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: inner options: %v", protoerr.ErrDecode, err)
	}
	for _, opt := range opts {
		if coap.ClassOf(opt.ID) == coap.ClassU {
			return 0, nil, nil, fmt.Errorf("%w: class U option %d inside ciphertext", protoerr.ErrDecode, opt.ID)
		}
	}
	return coap.Code(plaintext[0]), opts, payload, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
