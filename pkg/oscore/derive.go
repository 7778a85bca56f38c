package oscore

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// EDHOC exporter labels for OSCORE (RFC 9528 Appendix A.1).
const (
	ExporterLabelMasterSecret = 0
	ExporterLabelMasterSalt   = 1
)

// DefaultMasterSaltLen is the master salt length used with EDHOC.
const DefaultMasterSaltLen = 8

// Session is a completed EDHOC session.
type Session interface {
	// Exporter produces handshake-bound key material.
	Exporter(label uint, context []byte, length int) ([]byte, error)

	// Message3 returns the message_3 still owed to the responder, or nil
	// when the session has nothing to deliver.
	Message3() []byte
}

// Params holds the input of NewContext.
type Params struct {
	Algorithm    Algorithm
	MasterSecret []byte
	MasterSalt   []byte
	SenderID     []byte
	RecipientID  []byte
	IDContext    []byte

	// Tail is attached to the first protected message.
	Tail []byte

	ReplayWindowSize int
	CommitPolicy     CommitPolicy
}

// DeriveOption adjusts the parameters built by Derive.
type DeriveOption func(*Params)

// WithCommitPolicy installs a sequence commit policy.
func WithCommitPolicy(p CommitPolicy) DeriveOption {
	return func(params *Params) {
		params.CommitPolicy = p
	}
}

// WithReplayWindowSize changes the replay window capacity.
func WithReplayWindowSize(n int) DeriveOption {
	return func(params *Params) {
		params.ReplayWindowSize = n
	}
}

// Derive builds a context from a completed handshake. own and peer are the
// EDHOC connection identifiers: the sender ID is the peer's identifier and
// the recipient ID our own. The session's message_3 becomes the pending
// tail of the context.
func Derive(sess Session, suite int, own, peer []byte, opts ...DeriveOption) (*Context, error) {
	alg, err := AlgorithmForSuite(suite)
	if err != nil {
		return nil, err
	}
	if string(own) == string(peer) {
		return nil, fmt.Errorf("%w: sender and recipient ID are both %x", protoerr.ErrInvalidContext, own)
	}

	secret, err := sess.Exporter(ExporterLabelMasterSecret, nil, alg.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("master secret: %w", err)
	}
	salt, err := sess.Exporter(ExporterLabelMasterSalt, nil, DefaultMasterSaltLen)
	if err != nil {
		return nil, fmt.Errorf("master salt: %w", err)
	}

	params := Params{
		Algorithm:    alg,
		MasterSecret: secret,
		MasterSalt:   salt,
		SenderID:     peer,
		RecipientID:  own,
		Tail:         sess.Message3(),
	}
	for _, opt := range opts {
		opt(&params)
	}
	return NewContext(params)
}

// deriveKey is the RFC 8613 Section 3.2.1 derivation with
// info = [id, id_context, alg_aead, type, L].
func deriveKey(p Params, id []byte, kind string, length int) ([]byte, error) {
	if id == nil {
		id = []byte{}
	}
	var idContext any
	if p.IDContext != nil {
		idContext = p.IDContext
	}
	info, err := wire.Marshal([]any{id, idContext, p.Algorithm.ID, kind, length})
	if err != nil {
		return nil, fmt.Errorf("%w: info: %v", protoerr.ErrCryptoFailure, err)
	}

	out := make([]byte, length)
	r := hkdf.New(p.Algorithm.newHash, p.MasterSecret, p.MasterSalt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protoerr.ErrCryptoFailure, kind, err)
	}
	return out, nil
}
