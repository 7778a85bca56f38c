package edhoc

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

// MethodStatStat authenticates both parties with static Diffie-Hellman keys.
const MethodStatStat = 3

// Error codes of an EDHOC error message (RFC 9528 Section 6).
const (
	ErrCodeSuccess     = 0
	ErrCodeUnspecified = 1
	ErrCodeWrongSuite  = 2
	ErrCodeUnknownCred = 3
)

// ProtocolError is an EDHOC error message received from the peer.
type ProtocolError struct {
	Code       int
	Diagnostic string
	// SuitesR lists the peer's supported suites for ErrCodeWrongSuite.
	SuitesR []int
}

// Error implements error.
func (e *ProtocolError) Error() string {
	switch e.Code {
	case ErrCodeWrongSuite:
		return fmt.Sprintf("peer rejected cipher suite, supports %v", e.SuitesR)
	case ErrCodeUnspecified:
		return fmt.Sprintf("peer error: %s", e.Diagnostic)
	default:
		return fmt.Sprintf("peer error code %d", e.Code)
	}
}

// Unwrap maps the error code into the error taxonomy.
func (e *ProtocolError) Unwrap() error {
	if e.Code == ErrCodeWrongSuite {
		return protoerr.ErrUnsupportedSuite
	}
	return protoerr.ErrDecode
}

// EncodeErrorMessage builds an EDHOC error message.
func EncodeErrorMessage(e *ProtocolError) []byte {
	switch e.Code {
	case ErrCodeWrongSuite:
		var info any = e.SuitesR
		if len(e.SuitesR) == 1 {
			info = e.SuitesR[0]
		}
		return wire.MustEncodeSequence(e.Code, info)
	case ErrCodeUnspecified:
		return wire.MustEncodeSequence(e.Code, e.Diagnostic)
	default:
		return wire.MustEncodeSequence(e.Code, true)
	}
}

// parseErrorMessage returns the peer error if data is an error message.
// message_2 starts with a bstr, an error message with an int.
func parseErrorMessage(data []byte) (*ProtocolError, bool) {
	r := wire.NewSequenceReader(data)
	major, err := r.Peek()
	if err != nil || (major != wire.MajorUint && major != wire.MajorNegInt) {
		return nil, false
	}

	perr := &ProtocolError{}
	if err := r.Next(&perr.Code); err != nil {
		return &ProtocolError{Code: ErrCodeUnspecified, Diagnostic: "malformed error message"}, true
	}
	switch perr.Code {
	case ErrCodeUnspecified:
		_ = r.Next(&perr.Diagnostic)
	case ErrCodeWrongSuite:
		perr.SuitesR = readSuites(r)
	}
	return perr, true
}

func readSuites(r *wire.SequenceReader) []int {
	major, err := r.Peek()
	if err != nil {
		return nil
	}
	if major == wire.MajorArray {
		var list []int
		if r.Next(&list) != nil {
			return nil
		}
		return list
	}
	var one int
	if r.Next(&one) != nil {
		return nil
	}
	return []int{one}
}

// encodeSuites encodes SUITES_I. The selected suite is the last element.
func encodeSuites(list []int) any {
	if len(list) == 1 {
		return list[0]
	}
	return list
}

// EncodeMessage1 builds message_1.
func EncodeMessage1(method int, suitesI []int, gx []byte, cI ConnID, ead []EAD) []byte {
	out := wire.MustEncodeSequence(method, encodeSuites(suitesI), gx, cbor.RawMessage(cI.Encode()))
	return append(out, EncodeEAD(ead)...)
}

// Message1 is a decoded message_1.
type Message1 struct {
	Method   int
	SuitesI  []int
	GX       []byte
	CI       ConnID
	EAD      []EAD
	Selected int
}

// ParseMessage1 decodes message_1. It is used by responders.
func ParseMessage1(data []byte) (*Message1, error) {
	r := wire.NewSequenceReader(data)
	m := &Message1{}
	if err := r.Next(&m.Method); err != nil {
		return nil, fmt.Errorf("%w: method: %v", protoerr.ErrDecode, err)
	}
	m.SuitesI = readSuites(r)
	if len(m.SuitesI) == 0 {
		return nil, fmt.Errorf("%w: SUITES_I", protoerr.ErrDecode)
	}
	m.Selected = m.SuitesI[len(m.SuitesI)-1]
	if err := r.Next(&m.GX); err != nil {
		return nil, fmt.Errorf("%w: G_X: %v", protoerr.ErrDecode, err)
	}
	cI, err := readBstrOrInt(r)
	if err != nil {
		return nil, fmt.Errorf("C_I: %w", err)
	}
	m.CI = cI
	if m.EAD, err = ReadEAD(r); err != nil {
		return nil, err
	}
	return m, nil
}

// IDCred is a decoded ID_CRED_x.
type IDCred struct {
	// Map is the full map form used in MAC contexts.
	Map []byte
	// KID is set for references by key identifier.
	KID []byte
	// Value is the embedded CCS for credentials sent by value.
	Value []byte
}

// LookupKey returns the trust store key identifying the credential.
func (id IDCred) LookupKey() []byte {
	if id.Value != nil {
		return id.Value
	}
	return id.Map
}

// IDCredByKID returns the ID_CRED referencing kid.
func IDCredByKID(kid []byte) IDCred {
	return IDCred{
		Map: wire.MustMarshal(map[int][]byte{cred.LabelKID: kid}),
		KID: kid,
	}
}

// IDCredByValue returns the ID_CRED embedding c.
func IDCredByValue(c *cred.Credential) IDCred {
	return IDCred{Map: c.IDCredValue(), Value: c.Raw()}
}

// Compact returns the encoding placed in PLAINTEXT_2 and PLAINTEXT_3.
// A kid-only ID_CRED is sent as the bare kid.
func (id IDCred) Compact() []byte {
	if id.KID != nil && id.Value == nil {
		return encodeBstrOrInt(id.KID)
	}
	return id.Map
}

// ReadIDCred decodes an ID_CRED_x in compact or map form.
func ReadIDCred(r *wire.SequenceReader) (IDCred, error) {
	major, err := r.Peek()
	if err != nil {
		return IDCred{}, fmt.Errorf("%w: ID_CRED: %v", protoerr.ErrDecode, err)
	}
	if major != wire.MajorMap {
		kid, err := readBstrOrInt(r)
		if err != nil {
			return IDCred{}, fmt.Errorf("ID_CRED: %w", err)
		}
		return IDCredByKID(kid), nil
	}

	raw, err := r.NextRaw()
	if err != nil {
		return IDCred{}, fmt.Errorf("%w: ID_CRED: %v", protoerr.ErrDecode, err)
	}
	var fields map[int]cbor.RawMessage
	if err := wire.Unmarshal(raw, &fields); err != nil {
		return IDCred{}, fmt.Errorf("%w: ID_CRED: %v", protoerr.ErrDecode, err)
	}
	if ccs, ok := fields[cred.LabelKCCS]; ok {
		return IDCred{Map: []byte(raw), Value: []byte(ccs)}, nil
	}
	if kidRaw, ok := fields[cred.LabelKID]; ok {
		var kid []byte
		if err := wire.Unmarshal(kidRaw, &kid); err != nil {
			return IDCred{}, fmt.Errorf("%w: kid: %v", protoerr.ErrDecode, err)
		}
		return IDCredByKID(kid), nil
	}
	return IDCred{}, fmt.Errorf("%w: ID_CRED without kid or kccs", protoerr.ErrDecode)
}

// plaintext2 is the decrypted content of CIPHERTEXT_2.
type plaintext2 struct {
	cR     ConnID
	idCred IDCred
	mac    []byte
	eadRaw []byte
	ead    []EAD
}

func parsePlaintext2(data []byte) (*plaintext2, error) {
	r := wire.NewSequenceReader(data)
	cR, err := readBstrOrInt(r)
	if err != nil {
		return nil, fmt.Errorf("C_R: %w", err)
	}
	idCred, err := ReadIDCred(r)
	if err != nil {
		return nil, err
	}
	var mac []byte
	if err := r.Next(&mac); err != nil {
		return nil, fmt.Errorf("%w: MAC_2: %v", protoerr.ErrDecode, err)
	}
	eadRaw := r.Remaining()
	ead, err := ReadEAD(r)
	if err != nil {
		return nil, err
	}
	return &plaintext2{cR: cR, idCred: idCred, mac: mac, eadRaw: eadRaw, ead: ead}, nil
}

// Plaintext3 is the decrypted content of CIPHERTEXT_3.
type Plaintext3 struct {
	IDCred IDCred
	MAC    []byte
	EADRaw []byte
	EAD    []EAD
}

// ParsePlaintext3 decodes PLAINTEXT_3. It is used by responders.
func ParsePlaintext3(data []byte) (*Plaintext3, error) {
	r := wire.NewSequenceReader(data)
	idCred, err := ReadIDCred(r)
	if err != nil {
		return nil, err
	}
	var mac []byte
	if err := r.Next(&mac); err != nil {
		return nil, fmt.Errorf("%w: MAC_3: %v", protoerr.ErrDecode, err)
	}
	eadRaw := r.Remaining()
	ead, err := ReadEAD(r)
	if err != nil {
		return nil, err
	}
	return &Plaintext3{IDCred: idCred, MAC: mac, EADRaw: eadRaw, EAD: ead}, nil
}

// EncodePlaintext2 builds PLAINTEXT_2. It is used by responders.
func EncodePlaintext2(cR ConnID, idCred IDCred, mac []byte, ead []EAD) []byte {
	return concat(cR.Encode(), idCred.Compact(), wire.MustMarshal(mac), EncodeEAD(ead))
}

// errNotBstr marks a message that is not a single byte string.
var errNotBstr = errors.New("message is not a single byte string")

func readSingleBstr(data []byte) ([]byte, error) {
	var b []byte
	if err := wire.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", protoerr.ErrDecode, errNotBstr, err)
	}
	return b, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
