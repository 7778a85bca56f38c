package oscore

import (
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

const (
	flagPIVMask    = 0x07
	flagKID        = 0x08
	flagKIDContext = 0x10
	flagReserved   = 0xe0
)

// OptionValue is the decoded value of the OSCORE option (RFC 8613
// Section 6.1). Nil fields are absent.
type OptionValue struct {
	PIV        []byte
	KIDContext []byte
	KID        []byte
}

// Encode returns the option value. A value with no fields is empty.
func (v OptionValue) Encode() ([]byte, error) {
	if len(v.PIV) > pivPadLen {
		return nil, fmt.Errorf("%w: partial IV of %d bytes", protoerr.ErrInvalidContext, len(v.PIV))
	}
	if len(v.KIDContext) > 0xff {
		return nil, fmt.Errorf("%w: kid context of %d bytes", protoerr.ErrInvalidContext, len(v.KIDContext))
	}

	flags := byte(len(v.PIV))
	if v.KID != nil {
		flags |= flagKID
	}
	if v.KIDContext != nil {
		flags |= flagKIDContext
	}
	if flags == 0 {
		return []byte{}, nil
	}

	out := []byte{flags}
	out = append(out, v.PIV...)
	if v.KIDContext != nil {
		out = append(out, byte(len(v.KIDContext)))
		out = append(out, v.KIDContext...)
	}
	return append(out, v.KID...), nil
}

// ParseOptionValue decodes an OSCORE option value.
func ParseOptionValue(data []byte) (OptionValue, error) {
	var v OptionValue
	if len(data) == 0 {
		return v, nil
	}

	flags := data[0]
	if flags&flagReserved != 0 {
		return v, fmt.Errorf("%w: reserved OSCORE flag bits %#x", protoerr.ErrDecode, flags)
	}
	n := int(flags & flagPIVMask)
	if n > pivPadLen {
		return v, fmt.Errorf("%w: reserved partial IV length %d", protoerr.ErrDecode, n)
	}
	rest := data[1:]

	if len(rest) < n {
		return v, fmt.Errorf("%w: truncated partial IV", protoerr.ErrDecode)
	}
	if n > 0 {
		v.PIV = append([]byte(nil), rest[:n]...)
	}
	rest = rest[n:]

	if flags&flagKIDContext != 0 {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return v, fmt.Errorf("%w: truncated kid context", protoerr.ErrDecode)
		}
		s := int(rest[0])
		v.KIDContext = append([]byte{}, rest[1:1+s]...)
		rest = rest[1+s:]
	}

	if flags&flagKID != 0 {
		v.KID = append([]byte{}, rest...)
	} else if len(rest) > 0 {
		return v, fmt.Errorf("%w: trailing bytes in OSCORE option", protoerr.ErrDecode)
	}
	return v, nil
}
