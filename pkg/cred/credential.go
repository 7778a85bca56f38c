package cred

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// COSE constants used in credentials.
const (
	ktyEC2   = 2
	crvP256  = 1
	coordLen = 32

	// LabelKID is the COSE header label of a key identifier.
	LabelKID = 4
	// LabelKCCS is the COSE header label of a CCS transported by value.
	LabelKCCS = 14
)

type ccsClaims struct {
	Subject      string        `cbor:"2,keyasint,omitempty"`
	Confirmation *confirmation `cbor:"8,keyasint"`
}

type confirmation struct {
	Key *coseKey `cbor:"1,keyasint"`
}

type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Kid []byte `cbor:"2,keyasint,omitempty"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   any    `cbor:"-3,keyasint,omitempty"`
}

// Credential is a parsed CCS. It is immutable once created.
type Credential struct {
	raw       []byte
	subject   string
	kid       []byte
	publicKey *ecdh.PublicKey
}

// Parse decodes a CCS.
func Parse(ccs []byte) (*Credential, error) {
	var claims ccsClaims
	if err := wire.Unmarshal(ccs, &claims); err != nil {
		return nil, fmt.Errorf("%w: credential: %v", protoerr.ErrDecode, err)
	}
	if claims.Confirmation == nil || claims.Confirmation.Key == nil {
		return nil, fmt.Errorf("%w: credential has no COSE_Key", protoerr.ErrDecode)
	}

	key := claims.Confirmation.Key
	if key.Kty != ktyEC2 || key.Crv != crvP256 {
		return nil, fmt.Errorf("%w: credential key kty=%d crv=%d", protoerr.ErrUnsupportedSuite, key.Kty, key.Crv)
	}

	pub, err := PublicKeyFromX(key.X)
	if err != nil {
		return nil, err
	}

	return &Credential{
		raw:       append([]byte(nil), ccs...),
		subject:   claims.Subject,
		kid:       append([]byte(nil), key.Kid...),
		publicKey: pub,
	}, nil
}

// MustParse is Parse for credentials compiled into the program.
func MustParse(ccs []byte) *Credential {
	c, err := Parse(ccs)
	if err != nil {
		panic(err)
	}
	return c
}

// PublicKeyFromX reconstructs a P-256 public key from its x coordinate.
// The even y coordinate is chosen.
func PublicKeyFromX(x []byte) (*ecdh.PublicKey, error) {
	if len(x) != coordLen {
		return nil, fmt.Errorf("%w: x coordinate of %d bytes", protoerr.ErrDecode, len(x))
	}
	compressed := append([]byte{0x02}, x...)
	px, py := elliptic.UnmarshalCompressed(elliptic.P256(), compressed)
	if px == nil {
		return nil, fmt.Errorf("%w: x coordinate not on P-256", protoerr.ErrDecode)
	}
	//nolint:staticcheck // crypto/ecdh only accepts the uncompressed form
	pub, err := ecdh.P256().NewPublicKey(elliptic.Marshal(elliptic.P256(), px, py))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrDecode, err)
	}
	return pub, nil
}

// Raw returns the CCS bytes.
func (c *Credential) Raw() []byte {
	return c.raw
}

// Subject returns the sub claim.
func (c *Credential) Subject() string {
	return c.subject
}

// KID returns the key identifier, or nil.
func (c *Credential) KID() []byte {
	return c.kid
}

// PublicKey returns the static Diffie-Hellman key.
func (c *Credential) PublicKey() *ecdh.PublicKey {
	return c.publicKey
}

// IDCredKID returns the ID_CRED map {4: kid}.
func (c *Credential) IDCredKID() []byte {
	return wire.MustMarshal(map[int][]byte{LabelKID: c.kid})
}

// IDCredValue returns the ID_CRED map {14: CCS} with the CCS embedded as a
// data item.
func (c *Credential) IDCredValue() []byte {
	return wire.MustMarshal(map[int]cbor.RawMessage{LabelKCCS: c.raw})
}
