package cred

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// Identity is the local credential with its private key.
type Identity struct {
	Credential *Credential
	PrivateKey *ecdh.PrivateKey
}

// NewIdentity pairs a credential with its private key.
// The key must match the credential's public key.
func NewIdentity(c *Credential, rawKey []byte) (*Identity, error) {
	priv, err := ecdh.P256().NewPrivateKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", protoerr.ErrCryptoFailure, err)
	}
	// Compare x coordinates; the credential may carry either y.
	if string(priv.PublicKey().Bytes()[1:1+coordLen]) != string(c.PublicKey().Bytes()[1:1+coordLen]) {
		return nil, fmt.Errorf("%w: private key does not match credential %q", protoerr.ErrInvalidContext, c.Subject())
	}
	return &Identity{Credential: c, PrivateKey: priv}, nil
}

// GenerateIdentity creates a fresh P-256 key and a CCS for it.
// The kid is set to kid when non-empty.
func GenerateIdentity(subject string, kid []byte) (*Identity, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate identity: %v", protoerr.ErrCryptoFailure, err)
	}
	point := priv.PublicKey().Bytes()

	key := coseKey{
		Kty: ktyEC2,
		Kid: kid,
		Crv: crvP256,
		X:   point[1 : 1+coordLen],
		Y:   point[1+coordLen:],
	}
	ccs, err := wire.Marshal(ccsClaims{
		Subject:      subject,
		Confirmation: &confirmation{Key: &key},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode credential: %v", protoerr.ErrCryptoFailure, err)
	}

	c, err := Parse(ccs)
	if err != nil {
		return nil, err
	}
	return &Identity{Credential: c, PrivateKey: priv}, nil
}
