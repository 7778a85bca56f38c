package oscore

import (
	"crypto/cipher"
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

const pivPadLen = 5

// Sealer encrypts with the sender key and decrypts with the recipient key.
type Sealer struct {
	sender    cipher.AEAD
	recipient cipher.AEAD
	commonIV  []byte
}

// NewSealer creates a sealer from derived keys.
func NewSealer(alg Algorithm, senderKey, recipientKey, commonIV []byte) (*Sealer, error) {
	if len(commonIV) != alg.NonceLen {
		return nil, fmt.Errorf("%w: common IV of %d bytes", protoerr.ErrInvalidContext, len(commonIV))
	}
	sender, err := alg.newAEAD(senderKey)
	if err != nil {
		return nil, err
	}
	recipient, err := alg.newAEAD(recipientKey)
	if err != nil {
		return nil, err
	}
	return &Sealer{
		sender:    sender,
		recipient: recipient,
		commonIV:  append([]byte(nil), commonIV...),
	}, nil
}

// Nonce builds the AEAD nonce from the ID of the endpoint that generated
// the Partial IV and the Partial IV (RFC 8613 Section 5.2).
func (s *Sealer) Nonce(id, piv []byte) []byte {
	n := len(s.commonIV)
	idLen := n - 6

	nonce := make([]byte, n)
	nonce[0] = byte(len(id))
	copy(nonce[1+idLen-len(id):1+idLen], id)
	copy(nonce[n-len(piv):], piv)

	for i := range nonce {
		nonce[i] ^= s.commonIV[i]
	}
	return nonce
}

// Seal encrypts an outgoing plaintext.
func (s *Sealer) Seal(nonce, plaintext, aad []byte) []byte {
	return s.sender.Seal(nil, nonce, plaintext, aad)
}

// Open decrypts an incoming ciphertext.
func (s *Sealer) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	pt, err := s.recipient.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrAuthentication, err)
	}
	return pt, nil
}
