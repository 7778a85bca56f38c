package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/connection"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

var (
	// ErrConnectionLost is returned for requests in flight when the stream
	// breaks.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
)

// DefaultConnectTimeout bounds a single dial.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// MaxMessageSize bounds a single envelope (default 64 KiB).
	MaxMessageSize uint32

	// ConnectTimeout bounds each dial (default 10s).
	ConnectTimeout time.Duration

	// KeepAlive enables pings when PingInterval is positive.
	KeepAlive KeepAliveConfig

	// Backoff and MaxDialAttempts control redialing a lost peer.
	Backoff         connection.BackoffConfig
	MaxDialAttempts int

	// Logger receives transport-layer protocol events. Optional.
	Logger plog.Logger

	// Log receives operational messages. Defaults to the logrus standard
	// logger.
	Log logrus.FieldLogger
}

// Client sends CoAP requests to peers over TCP. One stream is kept per
// peer address and shared by concurrent requests.
type Client struct {
	config ClientConfig
	log    logrus.FieldLogger

	mu     sync.Mutex
	peers  map[string]*peerConn
	closed bool
}

// NewClient creates a client. No connection is made until the first
// Exchange.
func NewClient(config ClientConfig) *Client {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MaxDialAttempts == 0 {
		config.MaxDialAttempts = connection.DefaultMaxAttempts
	}
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		config: config,
		log:    log,
		peers:  make(map[string]*peerConn),
	}
}

// Exchange sends req to the peer at address and waits for the response with
// the same envelope ID.
func (c *Client) Exchange(ctx context.Context, address string, req *coap.Message) (*coap.Message, error) {
	pc, err := c.peer(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protoerr.ErrNotSent, err)
	}
	if err := pc.mgr.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", protoerr.ErrNotSent, address, err)
	}
	return pc.roundTrip(ctx, req)
}

// State returns the connection state towards address.
func (c *Client) State(address string) connection.State {
	c.mu.Lock()
	pc, ok := c.peers[address]
	c.mu.Unlock()
	if !ok {
		return connection.StateDisconnected
	}
	return pc.mgr.State()
}

// Close announces the close to every connected peer and releases all
// connections.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peers := c.peers
	c.peers = map[string]*peerConn{}
	c.mu.Unlock()

	for _, pc := range peers {
		pc.close()
	}
	return nil
}

func (c *Client) peer(address string) (*peerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if pc, ok := c.peers[address]; ok {
		return pc, nil
	}
	pc := &peerConn{client: c, address: address}
	pc.mgr = connection.NewManager(pc.dial,
		connection.WithBackoff(connection.NewBackoffWithConfig(c.config.Backoff)),
		connection.WithMaxAttempts(c.config.MaxDialAttempts),
		connection.WithStateObserver(pc.logState),
	)
	c.peers[address] = pc
	return pc, nil
}

// peerConn is the stream to one peer. A new stream replaces conn, framer
// and done on every successful dial.
type peerConn struct {
	client  *Client
	address string
	mgr     *connection.Manager

	mu      sync.Mutex
	conn    net.Conn
	framer  *Framer
	connID  string
	done    chan struct{}
	ka      *KeepAlive
	nextID  uint32
	pending map[uint32]chan *wire.Envelope
}

func (pc *peerConn) dial(ctx context.Context) error {
	cfg := pc.client.config
	dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", pc.address)
	if err != nil {
		pc.client.log.WithError(err).WithField("peer", pc.address).Debug("dial failed")
		return err
	}

	framer := NewFramerWithMaxSize(conn, cfg.MaxMessageSize)
	connID := plog.NewConnectionID()
	if cfg.Logger != nil {
		framer.SetLogger(cfg.Logger, connID)
	}
	done := make(chan struct{})

	pc.mu.Lock()
	pc.conn = conn
	pc.framer = framer
	pc.connID = connID
	pc.done = done
	pc.pending = make(map[uint32]chan *wire.Envelope)
	if cfg.KeepAlive.PingInterval > 0 {
		pc.ka = NewKeepAlive(cfg.KeepAlive,
			func(seq uint32) error { return pc.sendControl(framer, wire.KindPing, seq) },
			func() { pc.lost(conn, errors.New("keep-alive timeout")) },
		)
		pc.ka.Start(context.Background())
	}
	pc.mu.Unlock()

	pc.client.log.WithFields(logrus.Fields{"peer": pc.address, "conn": connID}).Debug("connected")
	go pc.readLoop(conn, framer, done)
	return nil
}

func (pc *peerConn) roundTrip(ctx context.Context, req *coap.Message) (*coap.Message, error) {
	pc.mu.Lock()
	if pc.framer == nil {
		pc.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", protoerr.ErrNotSent, ErrConnectionLost)
	}
	pc.nextID++
	if pc.nextID == 0 {
		pc.nextID++
	}
	id := pc.nextID
	data, err := encodeMessage(wire.KindRequest, id, req)
	if err != nil {
		pc.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", protoerr.ErrNotSent, err)
	}
	ch := make(chan *wire.Envelope, 1)
	pc.pending[id] = ch
	framer, conn, done := pc.framer, pc.conn, pc.done
	pc.mu.Unlock()

	if err := framer.WriteFrame(data); err != nil {
		pc.forget(id)
		if errors.Is(err, ErrMessageTooLarge) {
			return nil, fmt.Errorf("%w: %w", protoerr.ErrNotSent, err)
		}
		pc.lost(conn, err)
		return nil, err
	}

	select {
	case env := <-ch:
		return decodeMessage(env)
	case <-done:
		return nil, ErrConnectionLost
	case <-ctx.Done():
		pc.forget(id)
		return nil, ctx.Err()
	}
}

func (pc *peerConn) readLoop(conn net.Conn, framer *Framer, done chan struct{}) {
	defer close(done)
	for {
		data, err := framer.ReadFrame()
		if err != nil {
			pc.lost(conn, err)
			return
		}
		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			pc.lost(conn, err)
			return
		}

		switch env.Kind {
		case wire.KindResponse:
			pc.deliver(env)
		case wire.KindPong:
			pc.mu.Lock()
			ka := pc.ka
			pc.mu.Unlock()
			if ka != nil {
				ka.PongReceived(env.ID)
			}
		case wire.KindPing:
			_ = pc.sendControl(framer, wire.KindPong, env.ID)
		case wire.KindClose:
			pc.lost(conn, errors.New("closed by peer"))
			return
		case wire.KindRequest:
			pc.client.log.WithField("peer", pc.address).Debug("dropping request from server")
		}
	}
}

func (pc *peerConn) deliver(env *wire.Envelope) {
	pc.mu.Lock()
	ch, ok := pc.pending[env.ID]
	delete(pc.pending, env.ID)
	pc.mu.Unlock()
	if !ok {
		pc.client.log.WithField("id", env.ID).Debug("response without pending request")
		return
	}
	ch <- env
}

func (pc *peerConn) forget(id uint32) {
	pc.mu.Lock()
	delete(pc.pending, id)
	pc.mu.Unlock()
}

func (pc *peerConn) sendControl(framer *Framer, kind wire.EnvelopeKind, id uint32) error {
	data, err := encodeControl(kind, id)
	if err != nil {
		return err
	}
	return framer.WriteFrame(data)
}

// lost tears down conn if it is still the current stream.
func (pc *peerConn) lost(conn net.Conn, cause error) {
	pc.mu.Lock()
	if pc.conn != conn {
		pc.mu.Unlock()
		return
	}
	ka := pc.ka
	pc.conn, pc.framer, pc.ka = nil, nil, nil
	pc.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	_ = conn.Close()
	pc.client.log.WithError(cause).WithField("peer", pc.address).Debug("connection lost")
	pc.mgr.NotifyConnectionLost()
}

func (pc *peerConn) close() {
	pc.mu.Lock()
	conn, framer := pc.conn, pc.framer
	pc.mu.Unlock()
	if framer != nil {
		_ = pc.sendControl(framer, wire.KindClose, 0)
		pc.lost(conn, ErrClientClosed)
	}
	pc.mgr.Close()
}

func (pc *peerConn) logState(oldState, newState connection.State) {
	logger := pc.client.config.Logger
	if logger == nil {
		return
	}
	pc.mu.Lock()
	connID := pc.connID
	pc.mu.Unlock()
	logger.Log(plog.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        plog.LayerTransport,
		Category:     plog.CategoryState,
		LocalRole:    plog.RoleInitiator,
		RemoteAddr:   pc.address,
		StateChange: &plog.StateChangeEvent{
			Entity:   plog.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
}
