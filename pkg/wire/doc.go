// Package wire holds the CBOR codec shared by the handshake, security and
// transport layers.
//
// EDHOC messages are CBOR sequences (RFC 8742): concatenated data items
// without an enclosing array. OSCORE key derivation and additional
// authenticated data use plain CBOR arrays. Credentials (CCS) are CBOR maps
// with integer keys.
//
// # Encoding Rules
//
//   - Integers use the shortest encoding (CBOR preferred serialization).
//   - Map keys are sorted canonically so that encodings used as lookup keys
//     or inside transcript hashes are reproducible.
//   - Indefinite-length items are never produced.
//
// # Decoding Rules
//
// Decoding is lenient about duplicate map keys (last wins) and accepts
// indefinite-length input, so that peers using other CBOR libraries
// interoperate.
package wire
