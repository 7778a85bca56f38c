// Package discovery finds EDHOC-capable CoAP peers with mDNS/DNS-SD.
//
// Peers advertise the _coap._tcp service. The instance name identifies the
// device; TXT records carry hints that help pick the right trust anchor:
//
//   - rt: resource type of the handshake resource (core.edhoc)
//   - kid: hex kid of the peer's credential, when it is sent by reference
//   - suites: comma-separated cipher suites in preference order
//
// Discovery only locates a peer. Its TXT data is unauthenticated and never
// replaces the trust store: a peer found here is accepted only when its
// handshake credential verifies.
package discovery
