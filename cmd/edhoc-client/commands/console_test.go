package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/config"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
)

func newTestConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	cfg = config.Default()
	coord := newCoordinator(t, mock.InitiatorIdentity(), edhoc.ByReference, mock.NewDevice("dev"))
	var out bytes.Buffer
	return newConsole(&session{peer: "device", coord: coord}, &out), &out
}

func TestConsoleSession(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()

	assert.False(t, c.exec(ctx, "state"))
	assert.Contains(t, out.String(), "channel: UNESTABLISHED")

	out.Reset()
	assert.False(t, c.exec(ctx, "establish"))
	assert.Contains(t, out.String(), `secure channel to device established`)
	assert.Equal(t, exchange.StateActive, c.s.coord.State())

	out.Reset()
	assert.False(t, c.exec(ctx, "get poem"))
	assert.Contains(t, out.String(), "GET /poem")
	assert.Contains(t, out.String(), mock.Poem)

	out.Reset()
	assert.False(t, c.exec(ctx, "state"))
	assert.Contains(t, out.String(), "channel: ACTIVE")
	assert.Contains(t, out.String(), "kid 0a")

	out.Reset()
	assert.False(t, c.exec(ctx, "close"))
	assert.Contains(t, out.String(), "channel: CLOSED")

	out.Reset()
	assert.False(t, c.exec(ctx, "get /poem"))
	assert.Contains(t, out.String(), string(outcomeNotReady))
}

func TestConsoleDemo(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()
	require.False(t, c.exec(ctx, "e"))

	out.Reset()
	assert.False(t, c.exec(ctx, "demo"))
	for _, p := range demoPaths {
		assert.Contains(t, out.String(), "GET "+p)
	}
}

func TestConsoleInput(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()

	assert.False(t, c.exec(ctx, "   "))
	assert.Empty(t, out.String())

	assert.False(t, c.exec(ctx, "get"))
	assert.Contains(t, out.String(), "usage: get <path>")

	out.Reset()
	assert.False(t, c.exec(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	out.Reset()
	assert.False(t, c.exec(ctx, "HELP"))
	assert.Contains(t, out.String(), "establish")

	assert.True(t, c.exec(ctx, "quit"))
}
