package mock

import (
	"encoding/hex"

	"github.com/secure-coap/edhoc-go/pkg/cred"
)

// Static keys of the RFC 9529 trace 2 (method 3, suite 2).
const (
	ResponderCCSHex = "A2026008A101A5010202410A2001215820BBC34960526EA4D32E940CAD2A234148DDC21791A12AFBCBAC93622046DD44F02258204519E257236B2A0CE2023F0931F1F386CA7AFDA64FCDE0108C224C51EABF6072"
	ResponderKeyHex = "72cc4761dbd4c78f758931aa589d348d1ef874a7e303ede2f140dcf3e6aa4aac"
	InitiatorCCSHex = "A2027734322D35302D33312D46462D45462D33372D33322D333908A101A5010202412B2001215820AC75E9ECE3E50BFC8ED60399889522405C47BF16DF96660A41298CB4307F7EB62258206E5DE611388A4B8A8211334AC7D37ECB52A387D257E6DB3C2A93DF21FF3AFFC8"
	InitiatorKeyHex = "fb13adeb6518cee5f88417660841142e830a81fe334380a953406a1305e8706b"
)

func mustDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func identity(ccsHex, keyHex string) *cred.Identity {
	id, err := cred.NewIdentity(cred.MustParse(mustDecode(ccsHex)), mustDecode(keyHex))
	if err != nil {
		panic(err)
	}
	return id
}

// ResponderIdentity returns the device identity (kid 0x0a).
func ResponderIdentity() *cred.Identity {
	return identity(ResponderCCSHex, ResponderKeyHex)
}

// InitiatorIdentity returns the preconfigured client identity (kid 0x2b).
func InitiatorIdentity() *cred.Identity {
	return identity(InitiatorCCSHex, InitiatorKeyHex)
}

// TrustedResponders returns a client trust store holding the device.
func TrustedResponders() *cred.Store {
	store, err := cred.NewStore(ResponderIdentity().Credential)
	if err != nil {
		panic(err)
	}
	return store
}
