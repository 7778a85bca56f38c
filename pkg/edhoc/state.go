package edhoc

// State is the initiator handshake state.
type State uint8

const (
	StateStart State = iota
	StateMessage1Sent
	StateMessage2Parsed
	StateMessage2Verified
	StateMessage3Prepared
	StateExported
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateMessage1Sent:
		return "MESSAGE1_SENT"
	case StateMessage2Parsed:
		return "MESSAGE2_PARSED"
	case StateMessage2Verified:
		return "MESSAGE2_VERIFIED"
	case StateMessage3Prepared:
		return "MESSAGE3_PREPARED"
	case StateExported:
		return "EXPORTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateAborted
}

// TransferMode selects how the initiator sends its credential in message_3.
type TransferMode uint8

const (
	// ByReference sends only the kid.
	ByReference TransferMode = iota
	// ByValue embeds the whole CCS.
	ByValue
)

// String returns the mode name.
func (m TransferMode) String() string {
	switch m {
	case ByReference:
		return "by-reference"
	case ByValue:
		return "by-value"
	default:
		return "unknown"
	}
}

// ParseTransferMode parses "by-reference" or "by-value".
func ParseTransferMode(s string) (TransferMode, bool) {
	switch s {
	case "by-reference", "reference", "kid":
		return ByReference, true
	case "by-value", "value":
		return ByValue, true
	default:
		return 0, false
	}
}
