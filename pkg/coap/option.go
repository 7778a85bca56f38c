package coap

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message"
)

// OptionID is a CoAP option number.
type OptionID = message.OptionID

// Option is a single option instance.
type Option = message.Option

// Options is an option list sorted by option number. The go-coap methods
// (Add, Set, Remove, SetPath) reuse the backing array, so a list shared
// between messages must be cloned before it is changed.
type Options = message.Options

// Option numbers used by the client.
const (
	URIHost       = message.URIHost
	ETag          = message.ETag
	URIPort       = message.URIPort
	URIPath       = message.URIPath
	ContentFormat = message.ContentFormat
	URIQuery      = message.URIQuery
	Block2        = message.Block2
	Block1        = message.Block1
	Size2         = message.Size2
	ProxyURI      = message.ProxyURI
	ProxyScheme   = message.ProxyScheme
	Size1         = message.Size1

	// OSCORE is not defined by go-coap (RFC 8613 Section 2).
	OSCORE OptionID = 9

	// EDHOC marks a request whose payload starts with message_3
	// (RFC 9668 Section 3.1).
	EDHOC OptionID = 21
)

// PayloadMarker separates options from the payload.
const PayloadMarker byte = 0xff

// ErrMalformedOptions is returned when an option encoding cannot be parsed.
var ErrMalformedOptions = errors.New("malformed options")

// OptionClass is the OSCORE protection class of an option.
type OptionClass uint8

const (
	// ClassE options are encrypted and integrity protected.
	ClassE OptionClass = iota
	// ClassU options stay in the outer message.
	ClassU
)

// ClassOf returns the OSCORE class of an option number.
func ClassOf(id OptionID) OptionClass {
	switch id {
	case URIHost, URIPort, OSCORE, ProxyURI, ProxyScheme, EDHOC:
		return ClassU
	default:
		return ClassE
	}
}

// Split partitions opts into Class E and Class U lists. Both are fresh
// slices in option order.
func Split(opts Options) (inner, outer Options) {
	for _, opt := range opts {
		if ClassOf(opt.ID) == ClassE {
			inner = append(inner, opt)
		} else {
			outer = append(outer, opt)
		}
	}
	return inner, outer
}

// SetUint replaces an option with the minimal uint encoding of v.
func SetUint(opts Options, id OptionID, v uint32) Options {
	out, _, err := opts.SetUint32(make([]byte, 4), id, v)
	if err != nil {
		// Four bytes always hold a uint32.
		panic(fmt.Sprintf("coap: set %d: %v", id, err))
	}
	return out
}

// CloneOptions returns a deep copy of opts.
func CloneOptions(opts Options) Options {
	if opts == nil {
		return nil
	}
	out := make(Options, len(opts))
	for i, opt := range opts {
		out[i] = Option{ID: opt.ID, Value: append([]byte(nil), opt.Value...)}
	}
	return out
}

// MarshalOptions encodes opts with RFC 7252 option deltas. The payload
// marker is not written.
func MarshalOptions(opts Options) ([]byte, error) {
	n, err := opts.Marshal(nil)
	if err != nil && !errors.Is(err, message.ErrTooSmall) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	buf := make([]byte, n)
	if n, err = opts.Marshal(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	return buf[:n], nil
}

// UnmarshalOptions decodes options up to the payload marker or the end of
// data. It returns the options and the payload following the marker.
// Option values do not alias data.
func UnmarshalOptions(data []byte) (Options, []byte, error) {
	if len(data) == 0 {
		return nil, nil, nil
	}
	data = append([]byte(nil), data...)

	// Every option takes at least one byte.
	opts := make(Options, 0, len(data))
	n, err := opts.Unmarshal(data, message.CoapOptionDefs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	if len(opts) == 0 {
		opts = nil
	}
	switch {
	case n <= 0:
		return nil, nil, fmt.Errorf("%w: nothing decoded", ErrMalformedOptions)
	case n < len(data):
		// Decoding stops right after the payload marker.
		return opts, data[n:], nil
	case data[n-1] == PayloadMarker && markerOnly(opts, n):
		return nil, nil, fmt.Errorf("%w: payload marker without payload", ErrMalformedOptions)
	}
	return opts, nil, nil
}

// markerOnly reports whether the n decoded bytes are opts followed by a
// payload marker rather than opts alone.
func markerOnly(opts Options, n int) bool {
	enc, err := MarshalOptions(opts)
	return err == nil && len(enc)+1 == n
}
