// Package transport carries CoAP messages over a TCP stream.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CoAP (OSCORE-protected)      │
//	├────────────────────────────────┤
//	│   CBOR envelope (wire)         │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// The stream itself is not authenticated. Requests are protected end to end
// by OSCORE, so the transport only pairs responses with requests through the
// envelope ID and keeps the connection alive with ping/pong envelopes.
//
// Client implements exchange.Transport. It dials lazily through a
// connection.Manager and reports dial failures as protoerr.ErrNotSent, so
// an OSCORE context configured to release unsent sequence numbers can
// reuse them.
package transport
