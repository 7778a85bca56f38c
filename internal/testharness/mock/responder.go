package mock

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"slices"

	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// Responder is the responder side of one EDHOC handshake. It exists to
// exercise the initiator and is not hardened.
type Responder struct {
	identity *cred.Identity
	trusted  *cred.Store
	suites   []int
	byValue  bool
	cR       edhoc.ConnID

	// TamperMAC2 flips a bit of MAC_2 before encryption.
	TamperMAC2 bool

	suite     edhoc.Suite
	cI        edhoc.ConnID
	ephemeral *ecdh.PrivateKey
	th3       []byte
	prk3e2m   []byte

	peer        *cred.Credential
	peerTrusted bool
	prkExporter []byte
}

// NewResponder creates a responder. trusted holds the initiators known by
// reference; credentials sent by value are accepted but not trusted.
func NewResponder(id *cred.Identity, trusted *cred.Store, suites []int, cR edhoc.ConnID) *Responder {
	if len(suites) == 0 {
		suites = []int{edhoc.SuiteCCM64}
	}
	return &Responder{identity: id, trusted: trusted, suites: suites, cR: cR}
}

// SendCredentialByValue makes message_2 carry the whole CCS.
func (r *Responder) SendCredentialByValue() {
	r.byValue = true
}

// ProcessMessage1 returns message_2, or an EDHOC error message together
// with an error.
func (r *Responder) ProcessMessage1(data []byte) ([]byte, error) {
	m1, err := edhoc.ParseMessage1(data)
	if err != nil {
		return edhoc.EncodeErrorMessage(&edhoc.ProtocolError{Code: edhoc.ErrCodeUnspecified, Diagnostic: "bad message_1"}), err
	}
	if m1.Method != edhoc.MethodStatStat {
		return edhoc.EncodeErrorMessage(&edhoc.ProtocolError{Code: edhoc.ErrCodeUnspecified, Diagnostic: "method"}), fmt.Errorf("%w: method %d", protoerr.ErrDecode, m1.Method)
	}
	if !slices.Contains(r.suites, m1.Selected) {
		perr := &edhoc.ProtocolError{Code: edhoc.ErrCodeWrongSuite, SuitesR: r.suites}
		return edhoc.EncodeErrorMessage(perr), perr
	}
	suite, err := edhoc.LookupSuite(m1.Selected)
	if err != nil {
		return nil, err
	}
	r.suite = suite
	r.cI = m1.CI

	gX, err := cred.PublicKeyFromX(m1.GX)
	if err != nil {
		return nil, err
	}
	r.ephemeral, err = suite.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCryptoFailure, err)
	}
	gyX := r.ephemeral.PublicKey().Bytes()[1:33]

	gxy, err := edhoc.SharedSecret(r.ephemeral, gX)
	if err != nil {
		return nil, err
	}
	th2 := suite.Hash(wire.MustMarshal(gyX), wire.MustMarshal(suite.Hash(data)))
	prk2e := suite.Extract(th2, gxy)

	salt, err := suite.Expand(prk2e, edhoc.LabelSalt3e2m, th2, suite.HashLen)
	if err != nil {
		return nil, err
	}
	grx, err := edhoc.SharedSecret(r.identity.PrivateKey, gX)
	if err != nil {
		return nil, err
	}
	r.prk3e2m = suite.Extract(salt, grx)

	idCred := edhoc.IDCredByKID(r.identity.Credential.KID())
	if r.byValue {
		idCred = edhoc.IDCredByValue(r.identity.Credential)
	}
	credR := r.identity.Credential.Raw()

	context2 := join(r.cR.Encode(), idCred.Map, wire.MustMarshal(th2), credR)
	mac2, err := suite.Expand(r.prk3e2m, edhoc.LabelMAC2, context2, suite.MACLen)
	if err != nil {
		return nil, err
	}
	if r.TamperMAC2 {
		mac2[0] ^= 0x01
	}

	pt2 := edhoc.EncodePlaintext2(r.cR, idCred, mac2, nil)
	keystream, err := suite.Expand(prk2e, edhoc.LabelKeystream2, th2, len(pt2))
	if err != nil {
		return nil, err
	}
	ct2 := make([]byte, len(pt2))
	for i := range pt2 {
		ct2[i] = pt2[i] ^ keystream[i]
	}

	r.th3 = suite.Hash(wire.MustMarshal(th2), pt2, credR)
	return wire.MustMarshal(join(gyX, ct2)), nil
}

// ProcessMessage3 authenticates the initiator.
func (r *Responder) ProcessMessage3(data []byte) error {
	if r.prk3e2m == nil {
		return fmt.Errorf("%w: message_3 before message_1", protoerr.ErrSessionNotReady)
	}
	var ct3 []byte
	if err := wire.Unmarshal(data, &ct3); err != nil {
		return fmt.Errorf("%w: message_3: %v", protoerr.ErrDecode, err)
	}

	k3, err := r.suite.Expand(r.prk3e2m, edhoc.LabelK3, r.th3, r.suite.AEADKeyLen)
	if err != nil {
		return err
	}
	iv3, err := r.suite.Expand(r.prk3e2m, edhoc.LabelIV3, r.th3, r.suite.AEADNonceLen)
	if err != nil {
		return err
	}
	aead, err := r.suite.NewAEAD(k3)
	if err != nil {
		return err
	}
	pt3Raw, err := aead.Open(nil, iv3, ct3, edhoc.EncStructure(r.th3))
	if err != nil {
		return fmt.Errorf("%w: CIPHERTEXT_3: %v", protoerr.ErrAuthentication, err)
	}
	pt3, err := edhoc.ParsePlaintext3(pt3Raw)
	if err != nil {
		return err
	}

	peer, trusted, err := r.resolve(pt3.IDCred)
	if err != nil {
		return err
	}

	salt, err := r.suite.Expand(r.prk3e2m, edhoc.LabelSalt4e3m, r.th3, r.suite.HashLen)
	if err != nil {
		return err
	}
	giy, err := edhoc.SharedSecret(r.ephemeral, peer.PublicKey())
	if err != nil {
		return err
	}
	prk4e3m := r.suite.Extract(salt, giy)

	context3 := join(pt3.IDCred.Map, wire.MustMarshal(r.th3), peer.Raw(), pt3.EADRaw)
	mac3, err := r.suite.Expand(prk4e3m, edhoc.LabelMAC3, context3, r.suite.MACLen)
	if err != nil {
		return err
	}
	if !hmac.Equal(mac3, pt3.MAC) {
		return fmt.Errorf("%w: MAC_3 mismatch", protoerr.ErrAuthentication)
	}

	th4 := r.suite.Hash(wire.MustMarshal(r.th3), pt3Raw, peer.Raw())
	prkOut, err := r.suite.Expand(prk4e3m, edhoc.LabelPRKOut, th4, r.suite.HashLen)
	if err != nil {
		return err
	}
	r.prkExporter, err = r.suite.Expand(prkOut, edhoc.LabelExporter, nil, r.suite.HashLen)
	if err != nil {
		return err
	}
	r.peer = peer
	r.peerTrusted = trusted
	return nil
}

func (r *Responder) resolve(id edhoc.IDCred) (*cred.Credential, bool, error) {
	if c, err := r.trusted.Lookup(id.LookupKey()); err == nil {
		return c, true, nil
	}
	if id.Value != nil {
		c, err := cred.Parse(id.Value)
		if err != nil {
			return nil, false, err
		}
		return c, false, nil
	}
	return nil, false, fmt.Errorf("%w: initiator %x", protoerr.ErrUntrustedPeer, id.LookupKey())
}

// Exporter derives key material once message_3 was processed.
func (r *Responder) Exporter(label uint, context []byte, length int) ([]byte, error) {
	if r.prkExporter == nil {
		return nil, protoerr.ErrSessionNotReady
	}
	return r.suite.Expand(r.prkExporter, int(label), context, length)
}

// Message3 is always nil: the responder owes the initiator no tail.
func (r *Responder) Message3() []byte {
	return nil
}

// Suite returns the selected suite identifier.
func (r *Responder) Suite() int {
	return r.suite.ID
}

// ConnIDs returns C_I and C_R.
func (r *Responder) ConnIDs() (cI, cR edhoc.ConnID) {
	return r.cI, r.cR
}

// Peer returns the initiator credential and whether it is trusted.
func (r *Responder) Peer() (*cred.Credential, bool) {
	return r.peer, r.peerTrusted
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
