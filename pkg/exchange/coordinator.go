package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/oscore"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// EDHOCPath is the resource receiving message_1.
const EDHOCPath = "/.well-known/edhoc"

// edhocTrue is the CBOR true prefixed to message_1 in a CoAP request.
const edhocTrue = 0xf5

// DefaultMaxBodySize limits block-wise reassembly in Get.
const DefaultMaxBodySize = 64 * 1024

// Transport sends one CoAP request to peer and returns the response. It
// owns retransmission, timeouts and framing. An error wrapping
// protoerr.ErrNotSent means the request never left the host.
type Transport interface {
	Exchange(ctx context.Context, peer string, req *coap.Message) (*coap.Message, error)
}

// Config is fixed for the lifetime of a Coordinator.
type Config struct {
	// Peer is the transport address of the responder.
	Peer string

	// Identity is the own credential and private key.
	Identity *cred.Identity

	// TransferMode selects how message_3 carries the own credential.
	TransferMode edhoc.TransferMode

	// Suites is SUITES_I; the last entry is selected. Defaults to [2].
	Suites []int

	// ConnID fixes C_I. Nil picks a random one-byte identifier for every
	// handshake.
	ConnID edhoc.ConnID

	// ReplayWindowSize overrides the OSCORE replay window size.
	ReplayWindowSize int

	// CommitPolicy decides the fate of sequence numbers used by requests
	// that were never sent. Defaults to oscore.ConsumeOnProtect.
	CommitPolicy oscore.CommitPolicy

	// MaxBodySize limits Get reassembly. Defaults to DefaultMaxBodySize.
	MaxBodySize int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the operational logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithProtocolLogger records protocol events.
func WithProtocolLogger(l plog.Logger) Option {
	return func(c *Coordinator) { c.plog = plog.OrNoop(l) }
}

// channel is one derived security context.
type channel struct {
	sec    *oscore.Context
	peer   *cred.Credential
	cI, cR edhoc.ConnID

	// carrier admits the one request that delivers message_3.
	carrier chan struct{}
	// delivered is closed once the peer answered the message_3 request.
	delivered chan struct{}
}

// Coordinator runs the handshake with one peer and the protected requests
// that follow it. It is safe for concurrent use.
type Coordinator struct {
	cfg   Config
	tr    Transport
	store *cred.Store

	logger logrus.FieldLogger
	plog   plog.Logger
	connID string

	mu    sync.Mutex
	state ChannelState
	err   error
	ch    *channel

	token atomic.Uint32
}

// New creates a coordinator in StateUnestablished. The trust store and the
// own identity are used for every handshake of this coordinator.
func New(cfg Config, tr Transport, store *cred.Store, opts ...Option) (*Coordinator, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: no transport", protoerr.ErrInvalidContext)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no trust store", protoerr.ErrInvalidContext)
	}
	if cfg.Identity == nil || cfg.Identity.Credential == nil || cfg.Identity.PrivateKey == nil {
		return nil, fmt.Errorf("%w: no own identity", protoerr.ErrInvalidContext)
	}
	for _, s := range cfg.Suites {
		if _, err := edhoc.LookupSuite(s); err != nil {
			return nil, err
		}
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	c := &Coordinator{
		cfg:    cfg,
		tr:     tr,
		store:  store,
		logger: logrus.StandardLogger(),
		plog:   plog.NoopLogger{},
		connID: plog.NewConnectionID(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logrus.Fields{"conn_id": c.connID, "peer": cfg.Peer})
	return c, nil
}

// State returns the channel state.
func (c *Coordinator) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that aborted the channel, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ConnectionID returns the protocol log identifier of the channel.
func (c *Coordinator) ConnectionID() string {
	return c.connID
}

// SecurityContext returns the active OSCORE context, or nil.
func (c *Coordinator) SecurityContext() *oscore.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	return c.ch.sec
}

// Peer returns the authenticated responder credential, or nil.
func (c *Coordinator) Peer() *cred.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	return c.ch.peer
}

// Establish runs the EDHOC handshake and installs the OSCORE context. It
// returns nil at once when the channel is already active.
func (c *Coordinator) Establish(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateHandshakeInFlight:
		c.mu.Unlock()
		return ErrHandshakeInFlight
	case StateClosed:
		c.mu.Unlock()
		return fmt.Errorf("%w: channel closed", protoerr.ErrSessionNotReady)
	case StateActive:
		c.mu.Unlock()
		return nil
	}
	c.err = nil
	c.setStateLocked(StateHandshakeInFlight, "")
	c.mu.Unlock()

	ch, err := c.handshake(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return fmt.Errorf("%w: channel closed during handshake", protoerr.ErrSessionNotReady)
	}
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.ch = ch
	c.setStateLocked(StateActive, "")
	c.logger.WithFields(logrus.Fields{
		"c_i":       ch.cI.String(),
		"c_r":       ch.cR.String(),
		"peer_kid":  fmt.Sprintf("%x", ch.peer.KID()),
		"sender_id": fmt.Sprintf("%x", ch.sec.SenderID()),
	}).Info("secure channel established")
	return nil
}

func (c *Coordinator) handshake(ctx context.Context) (*channel, error) {
	cI := c.cfg.ConnID
	if cI == nil {
		var err error
		if cI, err = edhoc.RandomConnID(nil); err != nil {
			return nil, err
		}
	}

	sess, err := edhoc.NewInitiator(edhoc.InitiatorConfig{Suites: c.cfg.Suites})
	if err != nil {
		return nil, err
	}
	suite := sess.SelectedSuite().ID

	m1, err := sess.PrepareMessage1(cI)
	if err != nil {
		return nil, err
	}
	c.logHandshake(plog.DirectionOut, 1, suite, cI, len(m1), false)

	req := coap.NewRequest(coap.POST, EDHOCPath)
	req.Token = c.nextToken()
	req.Payload = append([]byte{edhocTrue}, m1...)

	resp, err := c.tr.Exchange(ctx, c.cfg.Peer, req)
	if err != nil {
		sess.Abort(err)
		return nil, transportError("message_1", err)
	}

	m2, err := sess.ParseMessage2(resp.Payload)
	if err != nil {
		var perr *edhoc.ProtocolError
		if errors.As(err, &perr) {
			c.logHandshake(plog.DirectionIn, 0, suite, nil, len(resp.Payload), false)
		} else if !coap.IsSuccess(resp.Code) {
			err = fmt.Errorf("%w: message_1 rejected with %s: %s", protoerr.ErrDecode, resp.Code, resp.Payload)
		}
		return nil, err
	}
	c.logHandshake(plog.DirectionIn, 2, suite, m2.CR, len(resp.Payload), m2.IDCred.Value != nil)

	if m2.CR.Equal(cI) {
		err := fmt.Errorf("%w: C_R equals C_I (%s)", protoerr.ErrInvalidContext, cI)
		sess.Abort(err)
		return nil, err
	}

	// A nil credential makes the verification fail as untrusted.
	peer, _ := c.store.Lookup(m2.IDCred.LookupKey())
	if err := sess.VerifyMessage2(c.cfg.Identity, peer); err != nil {
		return nil, err
	}

	m3, err := sess.PrepareMessage3(c.cfg.TransferMode)
	if err != nil {
		return nil, err
	}
	c.logHandshake(plog.DirectionOut, 3, suite, nil, len(m3), c.cfg.TransferMode == edhoc.ByValue)

	var opts []oscore.DeriveOption
	if c.cfg.ReplayWindowSize > 0 {
		opts = append(opts, oscore.WithReplayWindowSize(c.cfg.ReplayWindowSize))
	}
	if c.cfg.CommitPolicy != nil {
		opts = append(opts, oscore.WithCommitPolicy(c.cfg.CommitPolicy))
	}
	sec, err := oscore.Derive(sess, suite, cI, m2.CR, opts...)
	if err != nil {
		sess.Abort(err)
		return nil, err
	}

	return &channel{
		sec:       sec,
		peer:      peer,
		cI:        cI,
		cR:        m2.CR,
		carrier:   make(chan struct{}, 1),
		delivered: make(chan struct{}),
	}, nil
}

// Do protects req, sends it and returns the verified response. The first
// call after Establish carries message_3; concurrent calls wait for it.
func (c *Coordinator) Do(ctx context.Context, req *coap.Message) (*coap.Message, error) {
	ch, err := c.active()
	if err != nil {
		return nil, err
	}

	select {
	case <-ch.delivered:
		return c.send(ctx, ch, req)
	default:
	}

	select {
	case ch.carrier <- struct{}{}:
	case <-ch.delivered:
		return c.send(ctx, ch, req)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-ch.delivered:
		<-ch.carrier
		return c.send(ctx, ch, req)
	default:
	}
	defer func() { <-ch.carrier }()

	if !c.isCurrent(ch) {
		return nil, fmt.Errorf("%w: channel discarded before message_3 was delivered", protoerr.ErrSessionNotReady)
	}

	resp, err := c.roundTrip(ctx, ch, req)
	var rerr *ResponseError
	if err == nil || errors.As(err, &rerr) {
		close(ch.delivered)
		return resp, err
	}
	// message_3 left with this request; without an answer the peer state is
	// unknown and the context cannot be used.
	c.discard(ch, err)
	return nil, err
}

func (c *Coordinator) send(ctx context.Context, ch *channel, req *coap.Message) (*coap.Message, error) {
	resp, err := c.roundTrip(ctx, ch, req)
	if abortsChannel(err) {
		c.discard(ch, err)
	}
	return resp, err
}

func (c *Coordinator) roundTrip(ctx context.Context, ch *channel, req *coap.Message) (*coap.Message, error) {
	msg := req.Clone()
	if len(msg.Token) == 0 {
		msg.Token = c.nextToken()
	}
	path := msg.Path()

	out, corr, err := ch.sec.Protect(msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	seq, _ := corr.Sequence()
	c.logMessage(plog.LayerApplication, plog.DirectionOut, msg, &seq, 0)
	c.logMessage(plog.LayerSecurity, plog.DirectionOut, out, &seq, 0)

	start := time.Now()
	resp, err := c.tr.Exchange(ctx, c.cfg.Peer, out)
	ch.sec.PostSequenceCommit(seq, err)
	if err != nil {
		return nil, c.logFailure(plog.LayerTransport, transportError(path, err))
	}
	rtt := time.Since(start)
	c.logMessage(plog.LayerSecurity, plog.DirectionIn, resp, nil, 0)

	if !resp.Options.HasOption(coap.OSCORE) {
		err := fmt.Errorf("%w: %s: unprotected %s response: %s", protoerr.ErrAuthentication, path, resp.Code, resp.Payload)
		return nil, c.logFailure(plog.LayerSecurity, err)
	}
	inner, _, err := ch.sec.Unprotect(resp, corr)
	if err != nil {
		return nil, c.logFailure(plog.LayerSecurity, fmt.Errorf("%s: %w", path, err))
	}
	c.logMessage(plog.LayerApplication, plog.DirectionIn, inner, nil, rtt)

	if !coap.IsSuccess(inner.Code) {
		return nil, c.logFailure(plog.LayerApplication, newResponseError(path, inner))
	}
	return inner, nil
}

// Get fetches path and reassembles a block-wise response.
func (c *Coordinator) Get(ctx context.Context, path string) (*coap.Message, error) {
	resp, err := c.Do(ctx, coap.NewRequest(coap.GET, path))
	if err != nil {
		return nil, err
	}
	v, err := resp.Options.GetUint32(coap.Block2)
	if err != nil {
		return resp, nil
	}
	block, err := coap.ParseBlock(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protoerr.ErrDecode, path, err)
	}
	if block.Num != 0 {
		return nil, fmt.Errorf("%w: %s: first block is %d", protoerr.ErrDecode, path, block.Num)
	}

	body := append([]byte(nil), resp.Payload...)
	for block.More {
		if len(body) > c.cfg.MaxBodySize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, path, c.cfg.MaxBodySize)
		}
		req := coap.NewRequest(coap.GET, path)
		if req.Options, err = coap.SetBlock2(req.Options, coap.Block{Num: block.Num + 1, SZX: block.SZX}); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		part, err := c.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		v, err := part.Options.GetUint32(coap.Block2)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: block %d without Block2", protoerr.ErrDecode, path, block.Num+1)
		}
		if block, err = coap.ParseBlock(v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", protoerr.ErrDecode, path, err)
		}
		if block.Offset() != len(body) {
			return nil, fmt.Errorf("%w: %s: block at offset %d, have %d bytes", protoerr.ErrDecode, path, block.Offset(), len(body))
		}
		body = append(body, part.Payload...)
		resp = part
	}
	if len(body) > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, path, c.cfg.MaxBodySize)
	}

	resp.Options = resp.Options.Remove(coap.Block2)
	resp.Payload = body
	return resp, nil
}

// Close ends the channel. Later calls fail with protoerr.ErrSessionNotReady.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.ch = nil
	c.setStateLocked(StateClosed, "closed by caller")
	return nil
}

func (c *Coordinator) active() (*channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.ch == nil {
		if c.err != nil {
			return nil, fmt.Errorf("%w: channel %s: %v", protoerr.ErrSessionNotReady, c.state, c.err)
		}
		return nil, fmt.Errorf("%w: channel %s", protoerr.ErrSessionNotReady, c.state)
	}
	return c.ch, nil
}

func (c *Coordinator) isCurrent(ch *channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch == ch
}

// discard drops ch if it is still the active channel.
func (c *Coordinator) discard(ch *channel, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != ch {
		return
	}
	c.ch = nil
	c.failLocked(reason)
}

// failLocked leaves the handshake or active state after an error.
func (c *Coordinator) failLocked(err error) {
	if abortsChannel(err) || protoerr.IsFatal(err) {
		c.err = err
		c.setStateLocked(StateAborted, err.Error())
		c.logger.WithError(err).Warn("secure channel aborted")
		return
	}
	c.setStateLocked(StateUnestablished, err.Error())
	c.logger.WithError(err).Info("secure channel discarded")
}

func (c *Coordinator) setStateLocked(s ChannelState, reason string) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	c.plog.Log(plog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        plog.LayerHandshake,
		Category:     plog.CategoryState,
		LocalRole:    plog.RoleInitiator,
		RemoteAddr:   c.cfg.Peer,
		StateChange: &plog.StateChangeEvent{
			Entity:   plog.StateEntityChannel,
			OldState: old.String(),
			NewState: s.String(),
			Reason:   reason,
		},
	})
}

func (c *Coordinator) nextToken() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], c.token.Add(1))
	return b[:]
}

// abortsChannel reports errors after which the context must not be used.
func abortsChannel(err error) bool {
	return errors.Is(err, protoerr.ErrAuthentication) ||
		errors.Is(err, protoerr.ErrUntrustedPeer) ||
		errors.Is(err, protoerr.ErrInvalidContext)
}

func transportError(op string, err error) error {
	if errors.Is(err, protoerr.ErrTransport) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", protoerr.ErrTransport, op, err)
}
