package log

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the secure channel (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this is the initiator or the responder.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// PeerKID is the hex kid of the authenticated peer credential.
	PeerKID string `cbor:"8,keyasint,omitempty"`

	// SenderID is the hex OSCORE sender ID (populated once derived).
	SenderID string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Security and application layers
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Channel/handshake state
	Handshake   *HandshakeEvent   `cbor:"13,keyasint,omitempty"` // EDHOC messages
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// NewConnectionID returns a fresh identifier for a secure channel.
func NewConnectionID() string {
	return uuid.New().String()
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

var directionNames = [...]string{DirectionIn: "IN", DirectionOut: "OUT"}

func (d Direction) String() string { return enumName(directionNames[:], int(d)) }

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerHandshake is the EDHOC key exchange.
	LayerHandshake Layer = 1
	// LayerSecurity is OSCORE protection (outer messages).
	LayerSecurity Layer = 2
	// LayerApplication is the decrypted CoAP exchange.
	LayerApplication Layer = 3
)

var layerNames = [...]string{
	LayerTransport:   "TRANSPORT",
	LayerHandshake:   "HANDSHAKE",
	LayerSecurity:    "SECURITY",
	LayerApplication: "APPLICATION",
}

func (l Layer) String() string { return enumName(layerNames[:], int(l)) }

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// Category 1 was used for transport control frames, which are not
// recorded any more.
var categoryNames = [...]string{CategoryMessage: "MESSAGE", CategoryState: "STATE", CategoryError: "ERROR"}

func (c Category) String() string { return enumName(categoryNames[:], int(c)) }

// Role indicates the local EDHOC role.
type Role uint8

const (
	// RoleResponder indicates the local side answers message_1.
	RoleResponder Role = 0
	// RoleInitiator indicates the local side sends message_1.
	RoleInitiator Role = 1
)

var roleNames = [...]string{RoleResponder: "RESPONDER", RoleInitiator: "INITIATOR"}

func (r Role) String() string { return enumName(roleNames[:], int(r)) }

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a CoAP message. At the security layer it is the
// outer message, at the application layer the decrypted inner one.
type MessageEvent struct {
	// Type distinguishes requests and responses.
	Type MessageType `cbor:"1,keyasint"`

	// Code is the CoAP code ("GET", "2.05").
	Code string `cbor:"2,keyasint"`

	// Path is the request path (inner requests only).
	Path string `cbor:"3,keyasint,omitempty"`

	// Token is the CoAP token.
	Token []byte `cbor:"4,keyasint,omitempty"`

	// PayloadSize is the payload length in bytes.
	PayloadSize int `cbor:"5,keyasint"`

	// Sequence is the OSCORE partial IV as a number.
	Sequence *uint64 `cbor:"6,keyasint,omitempty"`

	// EDHOC marks a request carrying message_3.
	EDHOC bool `cbor:"7,keyasint,omitempty"`

	// Block is the Block2 number of a partial response.
	Block *uint32 `cbor:"8,keyasint,omitempty"`

	// ProcessingTime is the round trip (responses only).
	ProcessingTime *time.Duration `cbor:"9,keyasint,omitempty"`
}

// MessageType distinguishes requests and responses.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
)

var messageTypeNames = [...]string{MessageTypeRequest: "REQUEST", MessageTypeResponse: "RESPONSE"}

func (m MessageType) String() string { return enumName(messageTypeNames[:], int(m)) }

// HandshakeEvent captures one EDHOC message.
type HandshakeEvent struct {
	// Number is the EDHOC message number (1-3), or 0 for an error message.
	Number int `cbor:"1,keyasint"`

	// Suite is the selected cipher suite.
	Suite int `cbor:"2,keyasint"`

	// ConnID is the hex connection identifier carried by the message.
	ConnID string `cbor:"3,keyasint,omitempty"`

	// Size is the encoded message size.
	Size int `cbor:"4,keyasint"`

	// ByValue is set when the message carries a credential by value.
	ByValue bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures channel and handshake lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a transport connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityChannel indicates a secure channel state change.
	StateEntityChannel StateEntity = 1
	// StateEntityHandshake indicates an EDHOC session state change.
	StateEntityHandshake StateEntity = 2
)

var stateEntityNames = [...]string{
	StateEntityConnection: "CONNECTION",
	StateEntityChannel:    "CHANNEL",
	StateEntityHandshake:  "HANDSHAKE",
}

func (s StateEntity) String() string { return enumName(stateEntityNames[:], int(s)) }

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the CoAP response code or EDHOC error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// enumName returns names[v], or "UNKNOWN" for values without a name.
func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) || names[v] == "" {
		return "UNKNOWN"
	}
	return names[v]
}
