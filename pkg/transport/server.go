package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// DefaultAddress is the listen address when none is configured.
const DefaultAddress = "127.0.0.1:5683"

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (e.g. ":5683" or "127.0.0.1:0").
	Address string

	// Handler answers requests. Required.
	Handler Handler

	// MaxMessageSize bounds a single envelope (default 64 KiB).
	MaxMessageSize uint32

	// Logger receives transport-layer protocol events. Optional.
	Logger plog.Logger

	// Log receives operational messages. Defaults to the logrus standard
	// logger.
	Log logrus.FieldLogger
}

// Server accepts streams from clients and dispatches each request envelope
// to the Handler. Requests on one stream are handled in order.
type Server struct {
	config   ServerConfig
	log      logrus.FieldLogger
	listener net.Listener

	conns   map[*serverConn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a stopped server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		config: config,
		log:    log,
		conns:  make(map[*serverConn]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection and waits for the
// connection goroutines.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for c := range s.conns {
		c.close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()

	c := &serverConn{
		server: s,
		conn:   conn,
		framer: NewFramerWithMaxSize(conn, s.config.MaxMessageSize),
		connID: plog.NewConnectionID(),
	}
	if s.config.Logger != nil {
		c.framer.SetLogger(s.config.Logger, c.connID)
	}

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	c.logState("", "CONNECTED")
	c.readLoop()
	c.close()

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	c.logState("CONNECTED", "DISCONNECTED")
}

type serverConn struct {
	server    *Server
	conn      net.Conn
	framer    *Framer
	connID    string
	closeOnce sync.Once
}

func (c *serverConn) readLoop() {
	log := c.server.log.WithFields(logrus.Fields{"conn": c.connID, "remote": c.conn.RemoteAddr().String()})
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && c.server.running.Load() {
				log.WithError(err).Debug("read failed")
			}
			return
		}
		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			log.WithError(err).Warn("dropping connection")
			return
		}

		switch env.Kind {
		case wire.KindRequest:
			if err := c.handleRequest(env); err != nil {
				log.WithError(err).Warn("request failed")
				return
			}
		case wire.KindPing:
			if err := c.send(encodeControl(wire.KindPong, env.ID)); err != nil {
				return
			}
		case wire.KindClose:
			return
		default:
			log.WithField("kind", env.Kind).Debug("ignoring envelope")
		}
	}
}

func (c *serverConn) handleRequest(env *wire.Envelope) error {
	req, err := decodeMessage(env)
	if err != nil {
		return err
	}
	resp := c.server.config.Handler.Handle(req)
	if resp == nil {
		return nil
	}
	return c.send(encodeMessage(wire.KindResponse, env.ID, resp))
}

func (c *serverConn) send(data []byte, err error) error {
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(data)
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

func (c *serverConn) logState(oldState, newState string) {
	if c.server.config.Logger == nil {
		return
	}
	c.server.config.Logger.Log(plog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        plog.LayerTransport,
		Category:     plog.CategoryState,
		LocalRole:    plog.RoleResponder,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		StateChange: &plog.StateChangeEvent{
			Entity:   plog.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}
