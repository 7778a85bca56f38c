package edhoc

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// EDHOC_KDF labels (RFC 9528 Section 4.1.2).
const (
	LabelKeystream2 = 0
	LabelSalt3e2m   = 1
	LabelMAC2       = 2
	LabelK3         = 3
	LabelIV3        = 4
	LabelSalt4e3m   = 5
	LabelMAC3       = 6
	LabelPRKOut     = 7
	LabelExporter   = 10
)

// pointLen is the length of a P-256 x coordinate.
const pointLen = 32

// InitiatorConfig configures an initiator session.
type InitiatorConfig struct {
	// Suites is SUITES_I in order of preference. The last element is the
	// selected suite. Defaults to [2].
	Suites []int

	// Ephemeral overrides the ephemeral key. Tests only.
	Ephemeral *ecdh.PrivateKey

	// Rand is the entropy source. Defaults to crypto/rand.
	Rand io.Reader
}

// Initiator runs the initiator side of one EDHOC handshake with method 3.
// A session is used once; start a new one after any failure.
type Initiator struct {
	mu    sync.Mutex
	state State
	err   error

	suitesI []int
	suite   Suite
	rand    io.Reader

	ephemeral *ecdh.PrivateKey
	cI        ConnID
	message1  []byte

	gY      *ecdh.PublicKey
	th2     []byte
	prk2e   []byte
	pt2     *plaintext2
	pt2Raw  []byte
	credR   *cred.Credential
	own     *cred.Identity
	prk3e2m []byte
	th3     []byte

	message3    []byte
	prkOut      []byte
	prkExporter []byte
}

// NewInitiator creates an initiator in StateStart.
func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	list := cfg.Suites
	if len(list) == 0 {
		list = []int{SuiteCCM64}
	}
	suite, err := LookupSuite(list[len(list)-1])
	if err != nil {
		return nil, err
	}
	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	return &Initiator{
		state:     StateStart,
		suitesI:   append([]int(nil), list...),
		suite:     suite,
		rand:      r,
		ephemeral: cfg.Ephemeral,
	}, nil
}

// State returns the current state.
func (i *Initiator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the reason of an abort, or nil.
func (i *Initiator) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// SelectedSuite returns the suite offered as selected in message_1.
func (i *Initiator) SelectedSuite() Suite {
	return i.suite
}

// Abort moves the session to StateAborted and drops key material.
func (i *Initiator) Abort(reason error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.abortLocked(reason)
}

func (i *Initiator) abortLocked(reason error) error {
	if i.state != StateAborted {
		i.state = StateAborted
		i.err = reason
		i.ephemeral = nil
		i.prk2e, i.prk3e2m, i.prkOut, i.prkExporter = nil, nil, nil, nil
	}
	return reason
}

// expect checks the current state. Calls out of order leave it unchanged.
func (i *Initiator) expect(op string, want State) error {
	if i.state == want {
		return nil
	}
	if i.state == StateAborted {
		return fmt.Errorf("%w: %s after abort: %v", protoerr.ErrSessionNotReady, op, i.err)
	}
	return fmt.Errorf("%w: %s in state %s", protoerr.ErrSessionNotReady, op, i.state)
}

// PrepareMessage1 generates the ephemeral key and returns message_1.
func (i *Initiator) PrepareMessage1(cI ConnID, ead ...EAD) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.expect("PrepareMessage1", StateStart); err != nil {
		return nil, err
	}

	if i.ephemeral == nil {
		key, err := i.suite.Curve().GenerateKey(i.rand)
		if err != nil {
			return nil, i.abortLocked(fmt.Errorf("%w: ephemeral key: %v", protoerr.ErrCryptoFailure, err))
		}
		i.ephemeral = key
	}

	gx := i.ephemeral.PublicKey().Bytes()[1 : 1+pointLen]
	i.cI = append(ConnID(nil), cI...)
	i.message1 = EncodeMessage1(MethodStatStat, i.suitesI, gx, i.cI, ead)
	i.state = StateMessage1Sent

	return append([]byte(nil), i.message1...), nil
}

// Message2 is the public content of a decrypted message_2.
type Message2 struct {
	CR     ConnID
	IDCred IDCred
	EAD    []EAD
}

// ParseMessage2 decrypts message_2 and returns the responder's connection
// identifier, credential reference and EAD. An EDHOC error message from the
// peer is returned as *ProtocolError.
func (i *Initiator) ParseMessage2(msg []byte) (*Message2, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.expect("ParseMessage2", StateMessage1Sent); err != nil {
		return nil, err
	}

	if perr, ok := parseErrorMessage(msg); ok {
		return nil, i.abortLocked(perr)
	}

	body, err := readSingleBstr(msg)
	if err != nil {
		return nil, i.abortLocked(fmt.Errorf("message_2: %w", err))
	}
	if len(body) <= pointLen {
		return nil, i.abortLocked(fmt.Errorf("%w: message_2 of %d bytes", protoerr.ErrDecode, len(body)))
	}
	gyX, ciphertext := body[:pointLen], body[pointLen:]

	gY, err := cred.PublicKeyFromX(gyX)
	if err != nil {
		return nil, i.abortLocked(fmt.Errorf("G_Y: %w", err))
	}
	gxy, err := SharedSecret(i.ephemeral, gY)
	if err != nil {
		return nil, i.abortLocked(err)
	}

	th2 := i.suite.Hash(wire.MustMarshal(gyX), wire.MustMarshal(i.suite.Hash(i.message1)))
	prk2e := i.suite.Extract(th2, gxy)

	keystream, err := i.suite.Expand(prk2e, LabelKeystream2, th2, len(ciphertext))
	if err != nil {
		return nil, i.abortLocked(err)
	}
	pt2Raw := xorBytes(ciphertext, keystream)

	pt2, err := parsePlaintext2(pt2Raw)
	if err != nil {
		return nil, i.abortLocked(fmt.Errorf("PLAINTEXT_2: %w", err))
	}
	if err := checkCritical(pt2.ead); err != nil {
		return nil, i.abortLocked(err)
	}

	i.gY = gY
	i.th2 = th2
	i.prk2e = prk2e
	i.pt2 = pt2
	i.pt2Raw = pt2Raw
	i.state = StateMessage2Parsed

	return &Message2{CR: pt2.cR, IDCred: pt2.idCred, EAD: pt2.ead}, nil
}

// VerifyMessage2 authenticates the responder. peerCred is the credential
// resolved from the trust store; nil means the lookup failed.
func (i *Initiator) VerifyMessage2(own *cred.Identity, peerCred *cred.Credential) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.expect("VerifyMessage2", StateMessage2Parsed); err != nil {
		return err
	}
	if peerCred == nil {
		return i.abortLocked(fmt.Errorf("%w: responder credential %x", protoerr.ErrUntrustedPeer, i.pt2.idCred.LookupKey()))
	}
	if own == nil || own.PrivateKey == nil || own.Credential == nil {
		return i.abortLocked(fmt.Errorf("%w: no own identity", protoerr.ErrInvalidContext))
	}

	salt, err := i.suite.Expand(i.prk2e, LabelSalt3e2m, i.th2, i.suite.HashLen)
	if err != nil {
		return i.abortLocked(err)
	}
	grx, err := SharedSecret(i.ephemeral, peerCred.PublicKey())
	if err != nil {
		return i.abortLocked(err)
	}
	prk3e2m := i.suite.Extract(salt, grx)

	context2 := concat(
		i.pt2.cR.Encode(),
		i.pt2.idCred.Map,
		wire.MustMarshal(i.th2),
		peerCred.Raw(),
		i.pt2.eadRaw,
	)
	mac2, err := i.suite.Expand(prk3e2m, LabelMAC2, context2, i.suite.MACLen)
	if err != nil {
		return i.abortLocked(err)
	}
	if !hmac.Equal(mac2, i.pt2.mac) {
		return i.abortLocked(fmt.Errorf("%w: MAC_2 mismatch", protoerr.ErrAuthentication))
	}

	i.credR = peerCred
	i.prk3e2m = prk3e2m
	i.th3 = i.suite.Hash(wire.MustMarshal(i.th2), i.pt2Raw, peerCred.Raw())
	i.own = own
	i.state = StateMessage2Verified
	return nil
}

// PrepareMessage3 builds message_3 and derives PRK_out.
func (i *Initiator) PrepareMessage3(mode TransferMode, ead ...EAD) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.expect("PrepareMessage3", StateMessage2Verified); err != nil {
		return nil, err
	}

	own := i.own
	var idCredI IDCred
	switch mode {
	case ByValue:
		idCredI = IDCredByValue(own.Credential)
	case ByReference:
		if len(own.Credential.KID()) == 0 {
			return nil, i.abortLocked(fmt.Errorf("%w: own credential has no kid", protoerr.ErrInvalidContext))
		}
		idCredI = IDCredByKID(own.Credential.KID())
	default:
		return nil, i.abortLocked(fmt.Errorf("%w: transfer mode %d", protoerr.ErrInvalidContext, mode))
	}

	salt, err := i.suite.Expand(i.prk3e2m, LabelSalt4e3m, i.th3, i.suite.HashLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	giy, err := SharedSecret(own.PrivateKey, i.gY)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	prk4e3m := i.suite.Extract(salt, giy)

	eadRaw := EncodeEAD(ead)
	context3 := concat(idCredI.Map, wire.MustMarshal(i.th3), own.Credential.Raw(), eadRaw)
	mac3, err := i.suite.Expand(prk4e3m, LabelMAC3, context3, i.suite.MACLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	pt3 := concat(idCredI.Compact(), wire.MustMarshal(mac3), eadRaw)

	k3, err := i.suite.Expand(i.prk3e2m, LabelK3, i.th3, i.suite.AEADKeyLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	iv3, err := i.suite.Expand(i.prk3e2m, LabelIV3, i.th3, i.suite.AEADNonceLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	aead, err := i.suite.NewAEAD(k3)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	ciphertext3 := aead.Seal(nil, iv3, pt3, EncStructure(i.th3))

	th4 := i.suite.Hash(wire.MustMarshal(i.th3), pt3, own.Credential.Raw())
	prkOut, err := i.suite.Expand(prk4e3m, LabelPRKOut, th4, i.suite.HashLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}
	prkExporter, err := i.suite.Expand(prkOut, LabelExporter, nil, i.suite.HashLen)
	if err != nil {
		return nil, i.abortLocked(err)
	}

	i.message3 = wire.MustMarshal(ciphertext3)
	i.prkOut = prkOut
	i.prkExporter = prkExporter
	i.ephemeral = nil
	i.prk2e = nil
	i.state = StateMessage3Prepared

	return append([]byte(nil), i.message3...), nil
}

// Message3 returns message_3 once prepared.
func (i *Initiator) Message3() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.message3...)
}

// PeerCredential returns the verified responder credential.
func (i *Initiator) PeerCredential() *cred.Credential {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.credR
}

// ConnIDs returns C_I and, once message_2 was parsed, C_R.
func (i *Initiator) ConnIDs() (cI, cR ConnID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pt2 != nil {
		cR = i.pt2.cR
	}
	return i.cI, cR
}

// Exporter is EDHOC_Exporter. It is valid once message_3 was prepared.
func (i *Initiator) Exporter(label uint, context []byte, length int) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateMessage3Prepared && i.state != StateExported {
		return nil, fmt.Errorf("%w: exporter in state %s", protoerr.ErrSessionNotReady, i.state)
	}
	out, err := i.suite.Expand(i.prkExporter, int(label), context, length)
	if err != nil {
		return nil, err
	}
	i.state = StateExported
	return out, nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
