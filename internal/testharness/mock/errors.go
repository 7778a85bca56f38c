package mock

import "errors"

// Mock package errors.
var (
	// ErrLinkDown is returned by a Link whose Down flag is set.
	ErrLinkDown = errors.New("link down")

	// ErrResponseLost is returned when a Link drops the response.
	ErrResponseLost = errors.New("response lost")
)
