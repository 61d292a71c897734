// Package protocol defines the wire-format message envelope exchanged
// with the external editor/transport. It holds only marshalable types;
// no networking code lives here — the transport itself is an external
// collaborator.
package protocol

import (
	"encoding/json"

	"github.com/gogpu/rendergraph/dsl"
)

// MessageType enumerates the recognised envelope types.
type MessageType string

const (
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeSceneRequest MessageType = "scene_request"
	TypeSceneUpdate  MessageType = "scene_update"
	TypeError        MessageType = "error"
)

// ErrorCode enumerates the recognised outbound error codes.
type ErrorCode string

const (
	ErrorCodeParse      ErrorCode = "PARSE_ERROR"
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodePanic      ErrorCode = "PANIC"
)

// Envelope is the top-level message shape: `{type, timestamp, requestId?, payload?}`.
// Payload is decoded on demand by the caller via Scene/Error, since its
// shape depends on Type.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload shape of an outbound `error` message.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Scene decodes Payload as a dsl.Scene. Valid only when Type is
// TypeSceneUpdate.
func (e *Envelope) Scene() (*dsl.Scene, error) {
	var s dsl.Scene
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Error decodes Payload as an ErrorPayload. Valid only when Type is
// TypeError.
func (e *Envelope) Error() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NewSceneUpdate builds an outbound/inbound scene_update envelope from
// an already-decoded scene.
func NewSceneUpdate(timestamp int64, requestID string, scene *dsl.Scene) (*Envelope, error) {
	raw, err := json.Marshal(scene)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeSceneUpdate, Timestamp: timestamp, RequestID: requestID, Payload: raw}, nil
}

// NewError builds an outbound error envelope.
func NewError(timestamp int64, requestID string, code ErrorCode, message string) (*Envelope, error) {
	raw, err := json.Marshal(ErrorPayload{Code: code, Message: message})
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeError, Timestamp: timestamp, RequestID: requestID, Payload: raw}, nil
}

// NewPong builds a pong reply to a ping, preserving its requestId.
func NewPong(timestamp int64, requestID string) *Envelope {
	return &Envelope{Type: TypePong, Timestamp: timestamp, RequestID: requestID}
}
