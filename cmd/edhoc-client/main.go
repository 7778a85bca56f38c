// Command edhoc-client establishes an EDHOC/OSCORE channel with a device
// and fetches resources over it.
//
// Usage:
//
//	edhoc-client [flags] <command>
//
// Commands:
//
//	connect   Run the handshake and the demo sequence once
//	console   Interactive console on one secure channel
//	log       View protocol log files
//
// Examples:
//
//	# Preconfigured identity from a file
//	edhoc-client --config configs/edhoc-client.yaml connect
//
//	# Fresh identity, sent by value; the device denies /stdout
//	edhoc-client --config configs/edhoc-client.yaml --random-identity connect
//
//	# Resolve the device by mDNS
//	edhoc-client --discover kitchen connect
package main

import (
	"os"

	"github.com/secure-coap/edhoc-go/cmd/edhoc-client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
