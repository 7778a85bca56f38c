package edhoc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/hkdf"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// Cipher suite identifiers (RFC 9528 Section 10.2).
const (
	SuiteCCM64  = 2 // AES-CCM-16-64-128, SHA-256, 8, P-256, ES256, AES-CCM-16-64-128, SHA-256
	SuiteCCM128 = 3 // AES-CCM-16-128-128, SHA-256, 16, P-256, ES256, AES-CCM-16-64-128, SHA-256
)

// COSE algorithm identifiers of the EDHOC AEAD.
const (
	AlgAESCCM16_64_128  = 10
	AlgAESCCM16_128_128 = 30
)

// Suite holds the algorithm parameters of an EDHOC cipher suite.
type Suite struct {
	ID   int
	Name string

	AEADAlg      int
	AEADKeyLen   int
	AEADTagLen   int
	AEADNonceLen int
	MACLen       int
	HashLen      int

	curve   ecdh.Curve
	newHash func() hash.Hash
}

var suites = map[int]Suite{
	SuiteCCM64: {
		ID:           SuiteCCM64,
		Name:         "AES-CCM-16-64-128/SHA-256/P-256",
		AEADAlg:      AlgAESCCM16_64_128,
		AEADKeyLen:   16,
		AEADTagLen:   8,
		AEADNonceLen: 13,
		MACLen:       8,
		HashLen:      sha256.Size,
		curve:        ecdh.P256(),
		newHash:      sha256.New,
	},
	SuiteCCM128: {
		ID:           SuiteCCM128,
		Name:         "AES-CCM-16-128-128/SHA-256/P-256",
		AEADAlg:      AlgAESCCM16_128_128,
		AEADKeyLen:   16,
		AEADTagLen:   16,
		AEADNonceLen: 13,
		MACLen:       16,
		HashLen:      sha256.Size,
		curve:        ecdh.P256(),
		newHash:      sha256.New,
	},
}

// LookupSuite returns the parameters of a supported suite.
func LookupSuite(id int) (Suite, error) {
	s, ok := suites[id]
	if !ok {
		return Suite{}, fmt.Errorf("%w: %d", protoerr.ErrUnsupportedSuite, id)
	}
	return s, nil
}

// SupportedSuites returns the identifiers of all supported suites.
func SupportedSuites() []int {
	return []int{SuiteCCM64, SuiteCCM128}
}

// String returns the suite name.
func (s Suite) String() string {
	return fmt.Sprintf("%d (%s)", s.ID, s.Name)
}

// Curve returns the Diffie-Hellman curve.
func (s Suite) Curve() ecdh.Curve {
	return s.curve
}

// Hash hashes the concatenation of parts.
func (s Suite) Hash(parts ...[]byte) []byte {
	h := s.newHash()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Extract is EDHOC_Extract: HKDF-Extract with the suite hash.
func (s Suite) Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(s.newHash, ikm, salt)
}

// Expand is EDHOC_KDF. The HKDF info is the CBOR sequence
// (label, bstr context, length).
func (s Suite) Expand(prk []byte, label int, context []byte, length int) ([]byte, error) {
	if context == nil {
		context = []byte{}
	}
	info, err := wire.EncodeSequence(label, context, length)
	if err != nil {
		return nil, fmt.Errorf("%w: kdf info: %v", protoerr.ErrCryptoFailure, err)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(s.newHash, prk, info), out); err != nil {
		return nil, fmt.Errorf("%w: kdf label %d: %v", protoerr.ErrCryptoFailure, label, err)
	}
	return out, nil
}

// NewAEAD creates the suite's AES-CCM instance.
func (s Suite) NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCryptoFailure, err)
	}
	aead, err := ccm.NewCCM(block, s.AEADTagLen, s.AEADNonceLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCryptoFailure, err)
	}
	return aead, nil
}

// SharedSecret computes the x coordinate of priv * pub.
func SharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", protoerr.ErrCryptoFailure, err)
	}
	return secret, nil
}

// EncStructure returns the COSE Enc_structure ["Encrypt0", h'', th] used
// as additional data of CIPHERTEXT_3.
func EncStructure(th []byte) []byte {
	return wire.MustMarshal([]any{"Encrypt0", []byte{}, th})
}
