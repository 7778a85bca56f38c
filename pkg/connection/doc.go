// Package connection manages the stream connection to a peer.
//
// A Manager dials on demand. When a dial fails it waits out an exponential
// backoff before the next attempt:
//
//	delay = base + random(0, base * 0.25)
//
// with the base starting at 250ms, doubling per failure and capped at 8s.
// A successful dial resets the base. Security failures above the transport
// (a failed handshake, a rejected request) never touch the backoff.
package connection
