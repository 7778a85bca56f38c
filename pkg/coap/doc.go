// Package coap adapts the go-coap message model to the secure channel:
// codes, options and a transport-independent Message.
//
// Option encoding, Uri-Path handling, uint options and Block values come
// from github.com/plgd-dev/go-coap/v3. The option encoding is also used for
// the inner plaintext of OSCORE-protected messages, where the option list
// is followed by the 0xFF payload marker.
//
// # Option Classes
//
// OSCORE (RFC 8613 Section 4.1) splits options into Class E (encrypted and
// integrity protected) and Class U (visible to proxies). ClassOf reports the
// class of an option number and Split partitions a list. Options unknown to
// this package are Class E.
//
// # Block-wise Transfer
//
// Block describes a Block1/Block2 option value (RFC 7959). The option is
// carried inside the protected message so that reassembly is end-to-end.
package coap
