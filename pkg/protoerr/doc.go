// Package protoerr defines the error taxonomy shared by the EDHOC initiator,
// the OSCORE security context and the exchange coordinator.
//
// # Taxonomy
//
//   - ErrDecode: malformed handshake or protected message
//   - ErrUnsupportedSuite: unrecognized or unmapped cipher suite
//   - ErrUntrustedPeer: responder credential absent from the trust store
//   - ErrAuthentication: MAC or AEAD tag verification failure
//   - ErrInvalidContext: sender and recipient identifiers collide
//   - ErrReplay: duplicate or stale sequence number
//   - ErrSessionNotReady: operation invoked out of order
//   - ErrCryptoFailure: local key generation or primitive failure
//   - ErrTransport: failure reported by the transport collaborator
//
// # Propagation
//
// Every handshake-stage error is fatal to the session; the only recovery is
// a new handshake with fresh ephemeral state. ErrReplay on an individual
// protected message is not fatal: the message is dropped and the channel
// stays active.
//
// Packages wrap these sentinels with fmt.Errorf("...: %w", ...) so callers
// classify failures with errors.Is.
package protoerr
