package log

import (
	"time"
)

// Event is one protocol log record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw DIS bytes).
	LayerTransport Layer = 0
	// LayerWire is the decoded request/reply layer.
	LayerWire Layer = 1
	// LayerService is the dispatcher and request handlers.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is the server or a client.
type Role uint8

const (
	RoleServer Role = 0
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one frame at the transport layer.
type FrameEvent struct {
	// Size includes the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data may be truncated for large frames.
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`

	// Digest is the BLAKE2b-256 of the full payload.
	Digest []byte `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures a decoded request or reply.
type MessageEvent struct {
	Type MessageType `cbor:"1,keyasint"`

	// Operation is the batch request type and OperationName its name.
	Operation     int    `cbor:"2,keyasint"`
	OperationName string `cbor:"3,keyasint,omitempty"`

	User   string `cbor:"4,keyasint,omitempty"`
	Object string `cbor:"5,keyasint,omitempty"`

	// Reply fields.
	Code   *int `cbor:"6,keyasint,omitempty"`
	Aux    *int `cbor:"7,keyasint,omitempty"`
	Choice *int `cbor:"8,keyasint,omitempty"`

	// ProcessingTime is the time from request receipt to reply send.
	ProcessingTime *time.Duration `cbor:"9,keyasint,omitempty"`
}

// MessageType distinguishes requests from replies.
type MessageType uint8

const (
	MessageTypeRequest MessageType = 0
	MessageTypeReply   MessageType = 1
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeReply:
		return "REPLY"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and request lifecycle changes.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityRequest    StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityRequest:
		return "REQUEST"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is a DIS or batch error code when one applies.
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
