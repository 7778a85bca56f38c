// Package exchange runs an EDHOC handshake against one peer and then sends
// OSCORE-protected CoAP requests over the derived context.
//
// A Coordinator owns one secure channel:
//
//	Unestablished -> HandshakeInFlight -> Active -> Closed
//
// Authentication, trust and context errors move the channel to Aborted.
// Establish may be called again from Unestablished or Aborted; it starts a
// fresh handshake with new ephemeral state.
//
// message_3 travels with the first protected request. Other requests wait
// until that request got a protected answer, so the peer always sees the
// handshake completion first.
//
// Failures fall into three distinguishable classes:
//   - transport errors wrap protoerr.ErrTransport
//   - security failures (protoerr.ErrAuthentication, protoerr.ErrReplay)
//     mean the transport worked but a message did not verify
//   - *ResponseError means the peer decrypted the request and refused it
package exchange
