package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key       string `json:"key,omitempty"`       // Used for: Push, Pop, Len, IsFree, TryAcquire, Release
	TimeoutMs uint64 `json:"timeoutMs,omitempty"` // Used for: Pop (wait), TryAcquire (bound)
	Value     []byte `json:"value,omitempty"`     // Used for: Push (request), Pop (response), TryAcquire/Release (owner)

	// Response only fields
	Count uint64 `json:"count,omitempty"` // Used for: Len responses
	Ok    bool   `json:"ok,omitempty"`    // Used for: Pop, IsFree, TryAcquire, Release responses
	Err   string `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions (queue)
// --------------------------------------------------------------------------

// NewPushRequest creates a new Push request
func NewPushRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTQPush,
		Key:     key,
		Value:   value,
	}
}

// NewPushResponse creates a new Push response
func NewPushResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTQPush,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewPopRequest creates a new Pop request, the server waits up to timeoutMs for a value
func NewPopRequest(key string, timeoutMs uint64) *Message {
	return &Message{
		MsgType:   MsgTQPop,
		Key:       key,
		TimeoutMs: timeoutMs,
	}
}

// NewPopResponse creates a new Pop response
func NewPopResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTQPop,
		Ok:      ok,
		Value:   value,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewLenRequest creates a new Len request
func NewLenRequest(key string) *Message {
	return &Message{
		MsgType: MsgTQLen,
		Key:     key,
	}
}

// NewLenResponse creates a new Len response
func NewLenResponse(count int, err error) *Message {
	msg := &Message{
		MsgType: MsgTQLen,
		Count:   uint64(count),
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// --------------------------------------------------------------------------
// Message Factory Functions (lock primitives)
// --------------------------------------------------------------------------

// NewIsFreeRequest creates a new IsFree request
func NewIsFreeRequest(key string) *Message {
	return &Message{
		MsgType: MsgTLCKIsFree,
		Key:     key,
	}
}

// NewIsFreeResponse creates a new IsFree response
func NewIsFreeResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKIsFree,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewTryAcquireRequest creates a new TryAcquire request on behalf of owner
func NewTryAcquireRequest(key string, owner []byte, boundMs uint64) *Message {
	return &Message{
		MsgType:   MsgTLCKTryAcquire,
		Key:       key,
		Value:     owner,
		TimeoutMs: boundMs,
	}
}

// NewTryAcquireResponse creates a new TryAcquire response
func NewTryAcquireResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKTryAcquire,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key string, owner []byte) *Message {
	return &Message{
		MsgType: MsgTLCKRelease,
		Key:     key,
		Value:   owner,
	}
}

// NewReleaseResponse creates a new Release response
func NewReleaseResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKRelease,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// --------------------------------------------------------------------------
// Message Factory Functions (general)
// --------------------------------------------------------------------------

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTQPush:
		return "push"
	case MsgTQPop:
		return "pop"
	case MsgTQLen:
		return "len"
	case MsgTLCKIsFree:
		return "isFree"
	case MsgTLCKTryAcquire:
		return "tryAcquire"
	case MsgTLCKRelease:
		return "release"
	case MsgTCustom:
		return "custom"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "push":
		*t = MsgTQPush
	case "pop":
		*t = MsgTQPop
	case "len":
		*t = MsgTQLen
	case "isFree":
		*t = MsgTLCKIsFree
	case "tryAcquire":
		*t = MsgTLCKTryAcquire
	case "release":
		*t = MsgTLCKRelease
	case "custom":
		*t = MsgTCustom
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IQueue operations

	MsgTQPush // Append a value to a named queue
	MsgTQPop  // Blocking pop from a named queue
	MsgTQLen  // Number of values waiting in a named queue

	// IPrimitives operations

	MsgTLCKIsFree     // Check whether a named lock is free
	MsgTLCKTryAcquire // Bounded attempt to take a named lock
	MsgTLCKRelease    // Release a named lock

	// Custom operations

	MsgTCustom // Custom operation type
)
