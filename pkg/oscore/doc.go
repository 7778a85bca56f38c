// Package oscore implements the OSCORE security context (RFC 8613) derived
// from a completed EDHOC handshake.
//
// A Context is composed of three independent parts:
//
//   - Sealer: the AEAD with sender and recipient keys and the Common IV.
//   - SequenceCounter: the sender sequence number, consumed atomically.
//   - ReplayWindow: the recipient replay window.
//
// Protect and Unprotect are safe for concurrent use. The replay check,
// decryption and marking of one incoming message happen under a single
// lock, so concurrent duplicates cannot both be accepted.
//
// # Handshake Tail
//
// A context derived by Derive holds message_3 of the handshake. The first
// successful Protect takes it, sets the EDHOC option and prefixes the
// payload with it (RFC 9668). Later calls never see it again.
//
// # Sequence Numbers
//
// Protect consumes one sender sequence number per request. The number is
// not given back when the request is later lost or cancelled unless a
// CommitPolicy other than ConsumeOnProtect is installed.
package oscore
