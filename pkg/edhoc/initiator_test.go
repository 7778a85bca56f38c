package edhoc_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

type handshake struct {
	init      *edhoc.Initiator
	responder *mock.Responder
	trust     *cred.Store
	own       *cred.Identity
}

func newHandshake(t *testing.T, cR edhoc.ConnID) *handshake {
	t.Helper()
	init, err := edhoc.NewInitiator(edhoc.InitiatorConfig{})
	require.NoError(t, err)

	initiators, err := cred.NewStore(mock.InitiatorIdentity().Credential)
	require.NoError(t, err)

	return &handshake{
		init:      init,
		responder: mock.NewResponder(mock.ResponderIdentity(), initiators, nil, cR),
		trust:     mock.TrustedResponders(),
		own:       mock.InitiatorIdentity(),
	}
}

func (h *handshake) toMessage2(t *testing.T) *edhoc.Message2 {
	t.Helper()
	m1, err := h.init.PrepareMessage1(edhoc.ConnID{0x05})
	require.NoError(t, err)
	m2, err := h.responder.ProcessMessage1(m1)
	require.NoError(t, err)
	parsed, err := h.init.ParseMessage2(m2)
	require.NoError(t, err)
	return parsed
}

func TestFullHandshake(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	assert.Equal(t, edhoc.StateStart, h.init.State())

	m2 := h.toMessage2(t)
	assert.Equal(t, edhoc.StateMessage2Parsed, h.init.State())
	assert.Equal(t, edhoc.ConnID{0x0c}, m2.CR)
	assert.Equal(t, []byte{0x0a}, m2.IDCred.KID)

	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, h.init.VerifyMessage2(h.own, peer))
	assert.Equal(t, edhoc.StateMessage2Verified, h.init.State())
	assert.Same(t, peer, h.init.PeerCredential())

	m3, err := h.init.PrepareMessage3(edhoc.ByReference)
	require.NoError(t, err)
	assert.Equal(t, edhoc.StateMessage3Prepared, h.init.State())
	assert.Equal(t, m3, h.init.Message3())

	require.NoError(t, h.responder.ProcessMessage3(m3))
	_, trusted := h.responder.Peer()
	assert.True(t, trusted)

	for _, tc := range []struct {
		label  uint
		length int
	}{{0, 16}, {1, 8}, {42, 32}} {
		ours, err := h.init.Exporter(tc.label, nil, tc.length)
		require.NoError(t, err)
		theirs, err := h.responder.Exporter(tc.label, nil, tc.length)
		require.NoError(t, err)
		assert.Equal(t, theirs, ours, "label %d", tc.label)
		assert.Len(t, ours, tc.length)
	}
	assert.Equal(t, edhoc.StateExported, h.init.State())

	secret, _ := h.init.Exporter(0, nil, 16)
	salt, _ := h.init.Exporter(1, nil, 16)
	assert.NotEqual(t, secret, salt)
}

func TestHandshakeByValue(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	m2 := h.toMessage2(t)

	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, h.init.VerifyMessage2(h.own, peer))

	m3, err := h.init.PrepareMessage3(edhoc.ByValue)
	require.NoError(t, err)
	require.NoError(t, h.responder.ProcessMessage3(m3))

	got, _ := h.responder.Peer()
	assert.Equal(t, h.own.Credential.Raw(), got.Raw())
}

func TestResponderCredentialByValue(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	h.responder.SendCredentialByValue()
	m2 := h.toMessage2(t)

	assert.Nil(t, m2.IDCred.KID)
	assert.Equal(t, mock.ResponderIdentity().Credential.Raw(), m2.IDCred.LookupKey())

	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, h.init.VerifyMessage2(h.own, peer))
}

func TestRandomIdentityHandshake(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	random, err := cred.GenerateIdentity("me", []byte{0x2b})
	require.NoError(t, err)

	m2 := h.toMessage2(t)
	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, h.init.VerifyMessage2(random, peer))

	m3, err := h.init.PrepareMessage3(edhoc.ByValue)
	require.NoError(t, err)
	require.NoError(t, h.responder.ProcessMessage3(m3))

	_, trusted := h.responder.Peer()
	assert.False(t, trusted)
}

func TestUntrustedResponder(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	m2 := h.toMessage2(t)

	empty, err := cred.NewStore()
	require.NoError(t, err)
	_, err = empty.Lookup(m2.IDCred.LookupKey())
	require.ErrorIs(t, err, cred.ErrNotFound)

	err = h.init.VerifyMessage2(h.own, nil)
	assert.ErrorIs(t, err, protoerr.ErrUntrustedPeer)
	assert.True(t, protoerr.IsFatal(err))
	assert.Equal(t, edhoc.StateAborted, h.init.State())

	_, err = h.init.Exporter(0, nil, 16)
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)
}

func TestWrongResponderKey(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	m2 := h.toMessage2(t)

	// A credential that claims the kid but holds another key.
	impostor, err := cred.GenerateIdentity("impostor", m2.IDCred.KID)
	require.NoError(t, err)

	err = h.init.VerifyMessage2(h.own, impostor.Credential)
	assert.ErrorIs(t, err, protoerr.ErrAuthentication)
	assert.Equal(t, edhoc.StateAborted, h.init.State())
}

func TestTamperedMAC2(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	h.responder.TamperMAC2 = true
	m2 := h.toMessage2(t)

	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	assert.ErrorIs(t, h.init.VerifyMessage2(h.own, peer), protoerr.ErrAuthentication)
}

func TestExporterBeforeMessage3(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})

	_, err := h.init.Exporter(0, nil, 16)
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)

	h.toMessage2(t)
	_, err = h.init.Exporter(0, nil, 16)
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)
	assert.Equal(t, edhoc.StateMessage2Parsed, h.init.State())
}

func TestOutOfOrderCalls(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})

	_, err := h.init.ParseMessage2([]byte{0x40})
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)

	_, err = h.init.PrepareMessage3(edhoc.ByReference)
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)

	_, err = h.init.PrepareMessage1(edhoc.ConnID{0x01})
	require.NoError(t, err)
	_, err = h.init.PrepareMessage1(edhoc.ConnID{0x01})
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)
}

func TestParseMessage2Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		err  error
	}{
		{"not cbor", []byte{0xff}, protoerr.ErrDecode},
		{"trailing item", wire.MustEncodeSequence(make([]byte, 40), 1), protoerr.ErrDecode},
		{"too short", wire.MustMarshal(make([]byte, 32)), protoerr.ErrDecode},
		{"x not on curve", wire.MustMarshal(append(bytes.Repeat([]byte{0xff}, 32), 0x01, 0x02)), protoerr.ErrDecode},
		{"wrong suite", wire.MustEncodeSequence(2, []int{3, 6}), protoerr.ErrUnsupportedSuite},
		{"unspecified peer error", wire.MustEncodeSequence(1, "nope"), protoerr.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			init, err := edhoc.NewInitiator(edhoc.InitiatorConfig{})
			require.NoError(t, err)
			_, err = init.PrepareMessage1(edhoc.ConnID{0x05})
			require.NoError(t, err)

			_, err = init.ParseMessage2(tt.msg)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, edhoc.StateAborted, init.State())
			assert.Equal(t, err, init.Err())
		})
	}
}

func TestPeerSuiteList(t *testing.T) {
	init, err := edhoc.NewInitiator(edhoc.InitiatorConfig{})
	require.NoError(t, err)
	_, err = init.PrepareMessage1(edhoc.ConnID{0x05})
	require.NoError(t, err)

	_, err = init.ParseMessage2(edhoc.EncodeErrorMessage(&edhoc.ProtocolError{Code: edhoc.ErrCodeWrongSuite, SuitesR: []int{3}}))
	var perr *edhoc.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []int{3}, perr.SuitesR)
}

func TestOwnCredentialWithoutKIDByReference(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	noKID, err := cred.GenerateIdentity("anon", nil)
	require.NoError(t, err)

	m2 := h.toMessage2(t)
	peer, err := h.trust.Lookup(m2.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, h.init.VerifyMessage2(noKID, peer))

	_, err = h.init.PrepareMessage3(edhoc.ByReference)
	assert.ErrorIs(t, err, protoerr.ErrInvalidContext)
}

func TestAbort(t *testing.T) {
	h := newHandshake(t, edhoc.ConnID{0x0c})
	h.init.Abort(protoerr.ErrTransport)

	assert.Equal(t, edhoc.StateAborted, h.init.State())
	assert.True(t, h.init.State().IsTerminal())
	_, err := h.init.PrepareMessage1(edhoc.ConnID{0x05})
	assert.ErrorIs(t, err, protoerr.ErrSessionNotReady)
}

func TestSuite3Handshake(t *testing.T) {
	init, err := edhoc.NewInitiator(edhoc.InitiatorConfig{Suites: []int{edhoc.SuiteCCM128}})
	require.NoError(t, err)
	assert.Equal(t, edhoc.SuiteCCM128, init.SelectedSuite().ID)

	initiators, err := cred.NewStore(mock.InitiatorIdentity().Credential)
	require.NoError(t, err)
	responder := mock.NewResponder(mock.ResponderIdentity(), initiators, []int{edhoc.SuiteCCM64, edhoc.SuiteCCM128}, edhoc.ConnID{0x0c})

	m1, err := init.PrepareMessage1(edhoc.ConnID{0x05})
	require.NoError(t, err)
	m2, err := responder.ProcessMessage1(m1)
	require.NoError(t, err)
	parsed, err := init.ParseMessage2(m2)
	require.NoError(t, err)

	peer, err := mock.TrustedResponders().Lookup(parsed.IDCred.LookupKey())
	require.NoError(t, err)
	require.NoError(t, init.VerifyMessage2(mock.InitiatorIdentity(), peer))
	m3, err := init.PrepareMessage3(edhoc.ByReference)
	require.NoError(t, err)
	require.NoError(t, responder.ProcessMessage3(m3))
}
