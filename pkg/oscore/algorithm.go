package oscore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// Algorithm is an AEAD algorithm paired with the HKDF hash.
type Algorithm struct {
	ID       int
	Name     string
	KeyLen   int
	NonceLen int
	TagLen   int

	newHash func() hash.Hash
}

// AESCCM16_64_128 is COSE algorithm 10 with HKDF-SHA-256.
var AESCCM16_64_128 = Algorithm{
	ID:       10,
	Name:     "AES-CCM-16-64-128",
	KeyLen:   16,
	NonceLen: 13,
	TagLen:   8,
	newHash:  sha256.New,
}

// EDHOC cipher suite mapped to OSCORE algorithms.
const edhocSuite2 = 2

// AlgorithmForSuite maps an EDHOC cipher suite to its OSCORE algorithms.
// Only suite 2 is mapped.
func AlgorithmForSuite(suite int) (Algorithm, error) {
	if suite == edhocSuite2 {
		return AESCCM16_64_128, nil
	}
	return Algorithm{}, fmt.Errorf("%w: no OSCORE mapping for EDHOC suite %d", protoerr.ErrUnsupportedSuite, suite)
}

// String returns the algorithm name.
func (a Algorithm) String() string {
	return a.Name
}

// MaxIDLen is the longest sender or recipient ID the nonce can carry.
func (a Algorithm) MaxIDLen() int {
	return a.NonceLen - 6
}

func (a Algorithm) newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCryptoFailure, err)
	}
	aead, err := ccm.NewCCM(block, a.TagLen, a.NonceLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCryptoFailure, err)
	}
	return aead, nil
}
