// Package cred holds peer credentials and the trust store consulted during
// the EDHOC handshake.
//
// A credential is a CWT Claims Set (CCS, RFC 8392) carrying a COSE_Key in
// its confirmation claim:
//
//	{2: subject, 8: {1: {1: 2, 2: kid, -1: 1, -2: x, -3: y}}}
//
// Only P-256 keys are accepted. The public key is reconstructed from the x
// coordinate alone, so credentials whose y coordinate is absent or
// malformed still load. Static Diffie-Hellman only depends on x.
//
// # Lookup Keys
//
// A peer references its credential either by value or by key identifier.
// The Store indexes every credential under three keys, derived as follows:
//
//   - KeyByValue: the CCS bytes exactly as loaded.
//   - KeyByKID: the deterministic CBOR encoding of the map {4: kid}. This is
//     the ID_CRED_x form a peer uses when it references a credential by kid.
//   - KeyKID: the bare kid bytes.
//
// Credentials without a kid are only indexed by value. The table is built
// once and never modified.
package cred
