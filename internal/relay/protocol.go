// Package relay streams model output to connected clients. Each connection
// may run many requests at once; every request ends with exactly one done or
// error event unless it is aborted.
package relay

import "encoding/json"

// Message types of the client protocol.
const (
	TypeStream = "openai_stream"
	TypeAbort  = "abort"
	TypeChat   = "chat"
	TypeDelta  = "delta"
	TypeDone   = "done"
	TypeError  = "error"
)

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Inbound is a client message: a stream request, an abort or a chat turn.
// Serve ignores chat turns; a connection Handler turns them into stream
// requests.
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Messages  []ChatMessage   `json:"messages,omitempty"`
	Chat      json.RawMessage `json:"chat,omitempty"`
}

// ErrorBody carries a human-readable failure.
type ErrorBody struct {
	Message string `json:"message"`
}

// Outbound is an event sent to the client.
type Outbound struct {
	Type      string     `json:"type"`
	RequestID string     `json:"requestId"`
	Delta     string     `json:"delta,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

func DeltaEvent(requestID, text string) Outbound {
	return Outbound{Type: TypeDelta, RequestID: requestID, Delta: text}
}

func DoneEvent(requestID string) Outbound {
	return Outbound{Type: TypeDone, RequestID: requestID}
}

func ErrorEvent(requestID, message string) Outbound {
	return Outbound{Type: TypeError, RequestID: requestID, Error: &ErrorBody{Message: message}}
}

// Terminal reports whether the event ends its request.
func (o Outbound) Terminal() bool {
	return o.Type == TypeDone || o.Type == TypeError
}

// ErrorMessage returns the error text, or "" for non-error events.
func (o Outbound) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}
	return o.Error.Message
}
