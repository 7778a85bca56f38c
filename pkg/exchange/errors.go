package exchange

import (
	"errors"
	"fmt"

	"github.com/secure-coap/edhoc-go/pkg/coap"
)

// Coordinator errors.
var (
	// ErrHandshakeInFlight is returned by Establish while another handshake
	// runs on the same channel.
	ErrHandshakeInFlight = errors.New("handshake already in flight")

	// ErrBodyTooLarge is returned when a block-wise response exceeds the
	// configured limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// ResponseError is a verified response with an error code: the peer
// authenticated the request and refused it.
type ResponseError struct {
	Path       string
	Code       coap.Code
	Diagnostic string
}

// Error implements error.
func (e *ResponseError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: peer answered %s (%s)", e.Path, e.Code, e.Diagnostic)
	}
	return fmt.Sprintf("%s: peer answered %s", e.Path, e.Code)
}

// IsForbidden reports whether the peer denied access to the resource.
func (e *ResponseError) IsForbidden() bool {
	return e.Code == coap.Forbidden || e.Code == coap.Unauthorized
}

func newResponseError(path string, resp *coap.Message) *ResponseError {
	return &ResponseError{Path: path, Code: resp.Code, Diagnostic: string(resp.Payload)}
}
