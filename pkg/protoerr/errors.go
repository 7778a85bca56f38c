package protoerr

import "errors"

// Protocol errors.
var (
	ErrDecode           = errors.New("malformed message")
	ErrUnsupportedSuite = errors.New("unsupported cipher suite")
	ErrUntrustedPeer    = errors.New("peer credential not trusted")
	ErrAuthentication   = errors.New("authentication failed")
	ErrInvalidContext   = errors.New("invalid security context")
	ErrReplay           = errors.New("replayed sequence number")
	ErrSessionNotReady  = errors.New("session not ready")
	ErrCryptoFailure    = errors.New("cryptographic failure")
	ErrTransport        = errors.New("transport failure")

	// ErrNotSent marks transport errors raised before any byte of the
	// request left the host.
	ErrNotSent = errors.New("request not sent")
)

// fatal lists the errors that end a handshake or channel.
var fatal = []error{
	ErrDecode,
	ErrUnsupportedSuite,
	ErrUntrustedPeer,
	ErrAuthentication,
	ErrInvalidContext,
	ErrCryptoFailure,
}

// IsFatal reports whether err must abort the session.
// ErrReplay, ErrTransport and ErrSessionNotReady are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, f := range fatal {
		if errors.Is(err, f) {
			return true
		}
	}
	return false
}

// IsSecurityFailure reports whether err means the transport delivered a
// message that failed decryption, authentication or replay checks. Such
// failures indicate misconfiguration or an active attacker and are reported
// separately from plain transport errors.
func IsSecurityFailure(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrReplay)
}
