package transport_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	harness "github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/connection"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/transport"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

type eventLog struct {
	mu     sync.Mutex
	events []plog.Event
}

func (l *eventLog) Log(e plog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(match func(plog.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if match(e) {
			n++
		}
	}
	return n
}

func startServer(t *testing.T, h transport.Handler, logger plog.Logger) *transport.Server {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		Handler: h,
		Logger:  logger,
		Log:     log,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func newClient(t *testing.T, cfg transport.ClientConfig) *transport.Client {
	t.Helper()
	log, _ := test.NewNullLogger()
	cfg.Log = log
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = connection.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Jitter: -1}
	}
	c := transport.NewClient(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// rawPeer accepts connections and lets the test script the stream.
type rawPeer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newRawPeer(t *testing.T) *rawPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &rawPeer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *rawPeer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func readEnvelope(t *testing.T, f *transport.Framer) *wire.Envelope {
	t.Helper()
	data, err := f.ReadFrame()
	require.NoError(t, err)
	env, err := wire.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestCoordinatorOverTCP(t *testing.T) {
	device := harness.NewDevice("device")
	serverEvents := &eventLog{}
	srv := startServer(t, device, serverEvents)

	clientEvents := &eventLog{}
	client := newClient(t, transport.ClientConfig{Logger: clientEvents})

	log, _ := test.NewNullLogger()
	coord, err := exchange.New(exchange.Config{
		Peer:     srv.Addr().String(),
		Identity: harness.InitiatorIdentity(),
	}, client, harness.TrustedResponders(), exchange.WithLogger(log))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, coord.Establish(ctx))

	poem, err := coord.Get(ctx, "/poem")
	require.NoError(t, err)
	assert.Equal(t, harness.Poem, string(poem.Payload))

	out, err := coord.Get(ctx, "/stdout")
	require.NoError(t, err)
	assert.Equal(t, harness.StdoutText, string(out.Payload))

	assert.Equal(t, 1, srv.ConnectionCount())
	assert.Equal(t, connection.StateConnected, client.State(srv.Addr().String()))

	isFrame := func(e plog.Event) bool { return e.Frame != nil }
	// message_1 plus three poem blocks and /stdout, each in both directions.
	assert.Equal(t, 10, clientEvents.count(isFrame))
	assert.Equal(t, 10, serverEvents.count(isFrame))
	assert.Equal(t, 1, serverEvents.count(func(e plog.Event) bool {
		return e.StateChange != nil && e.StateChange.NewState == "CONNECTED"
	}))
}

func TestDialFailureIsNotSent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := newClient(t, transport.ClientConfig{MaxDialAttempts: 2})
	_, err = client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/x"))
	assert.ErrorIs(t, err, protoerr.ErrNotSent)
	assert.ErrorIs(t, err, connection.ErrConnectFailed)
	assert.Equal(t, connection.StateDisconnected, client.State(addr))
}

func TestLostConnectionIsRedialed(t *testing.T) {
	peer := newRawPeer(t)
	addr := peer.ln.Addr().String()
	client := newClient(t, transport.ClientConfig{})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/first"))
		errCh <- err
	}()

	conn := peer.accept(t)
	readEnvelope(t, transport.NewFramer(conn))
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrConnectionLost)
		assert.NotErrorIs(t, err, protoerr.ErrNotSent)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not fail")
	}

	go func() {
		_, err := client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/second"))
		errCh <- err
	}()

	conn = peer.accept(t)
	f := transport.NewFramer(conn)
	env := readEnvelope(t, f)
	assert.Equal(t, wire.KindRequest, env.Kind)
	resp, err := wire.EncodeEnvelope(&wire.Envelope{Kind: wire.KindResponse, ID: env.ID, Code: uint8(coap.Content), Token: env.Token})
	require.NoError(t, err)
	require.NoError(t, f.WriteFrame(resp))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not complete")
	}
}

func TestResponsesMatchedByID(t *testing.T) {
	peer := newRawPeer(t)
	addr := peer.ln.Addr().String()
	client := newClient(t, transport.ClientConfig{})

	type result struct {
		path string
		resp *coap.Message
		err  error
	}
	results := make(chan result, 2)
	for _, path := range []string{"/a", "/b"} {
		go func(path string) {
			resp, err := client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, path))
			results <- result{path, resp, err}
		}(path)
	}

	conn := peer.accept(t)
	f := transport.NewFramer(conn)
	first := readEnvelope(t, f)
	second := readEnvelope(t, f)

	// Answer in reverse order, echoing the path as payload.
	for _, env := range []*wire.Envelope{second, first} {
		opts, _, err := coap.UnmarshalOptions(env.Options)
		require.NoError(t, err)
		p, err := opts.Path()
		require.NoError(t, err)
		data, err := wire.EncodeEnvelope(&wire.Envelope{
			Kind:    wire.KindResponse,
			ID:      env.ID,
			Code:    uint8(coap.Content),
			Payload: []byte(p),
		})
		require.NoError(t, err)
		require.NoError(t, f.WriteFrame(data))
	}

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, r.path, string(r.resp.Payload))
	}
}

func TestExchangeHonoursContext(t *testing.T) {
	srv := startServer(t, transport.HandlerFunc(func(*coap.Message) *coap.Message { return nil }), nil)
	client := newClient(t, transport.ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Exchange(ctx, srv.Addr().String(), coap.NewRequest(coap.GET, "/slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeepAliveAgainstServer(t *testing.T) {
	srv := startServer(t, transport.HandlerFunc(func(req *coap.Message) *coap.Message {
		return coap.NewResponse(req, coap.Content, nil)
	}), nil)
	client := newClient(t, transport.ClientConfig{KeepAlive: transport.KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}})

	addr := srv.Addr().String()
	_, err := client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/"))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, connection.StateConnected, client.State(addr))
}

func TestKeepAliveDetectsSilentPeer(t *testing.T) {
	peer := newRawPeer(t)
	addr := peer.ln.Addr().String()
	client := newClient(t, transport.ClientConfig{KeepAlive: transport.KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = client.Exchange(ctx, addr, coap.NewRequest(coap.GET, "/"))
	}()

	conn := peer.accept(t)
	f := transport.NewFramer(conn)
	var sawPing bool
	require.Eventually(t, func() bool {
		_ = conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		if data, err := f.ReadFrame(); err == nil {
			if env, err := wire.DecodeEnvelope(data); err == nil && env.Kind == wire.KindPing {
				sawPing = true
			}
		}
		return sawPing && client.State(addr) == connection.StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientClose(t *testing.T) {
	srv := startServer(t, transport.HandlerFunc(func(req *coap.Message) *coap.Message {
		return coap.NewResponse(req, coap.Content, nil)
	}), nil)
	client := newClient(t, transport.ClientConfig{})
	addr := srv.Addr().String()

	_, err := client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	_, err = client.Exchange(context.Background(), addr, coap.NewRequest(coap.GET, "/"))
	assert.ErrorIs(t, err, protoerr.ErrNotSent)
	assert.True(t, errors.Is(err, transport.ErrClientClosed))
}

func TestServerRequiresHandler(t *testing.T) {
	_, err := transport.NewServer(transport.ServerConfig{})
	assert.Error(t, err)
}
