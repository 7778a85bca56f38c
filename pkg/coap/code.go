package coap

import "github.com/plgd-dev/go-coap/v3/message/codes"

// Code is a CoAP request method or response code (class.detail).
type Code = codes.Code

// Request methods.
const (
	Empty  = codes.Empty
	GET    = codes.GET
	POST   = codes.POST
	PUT    = codes.PUT
	DELETE = codes.DELETE

	// FETCH is not defined by go-coap (RFC 8132 Section 2: 0.05).
	FETCH Code = 5
)

// Response codes.
const (
	Created               = codes.Created
	Deleted               = codes.Deleted
	Valid                 = codes.Valid
	Changed               = codes.Changed
	Content               = codes.Content
	BadRequest            = codes.BadRequest
	Unauthorized          = codes.Unauthorized
	BadOption             = codes.BadOption
	Forbidden             = codes.Forbidden
	NotFound              = codes.NotFound
	MethodNotAllowed      = codes.MethodNotAllowed
	RequestEntityTooLarge = codes.RequestEntityTooLarge
	InternalServerError   = codes.InternalServerError
	NotImplemented        = codes.NotImplemented
	ServiceUnavailable    = codes.ServiceUnavailable
)

// IsRequest reports whether c is a request method.
func IsRequest(c Code) bool {
	return c != Empty && c>>5 == 0
}

// IsSuccess reports whether c is a 2.xx response code.
func IsSuccess(c Code) bool {
	return c>>5 == 2
}
