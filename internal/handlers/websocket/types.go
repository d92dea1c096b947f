package websocket

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Server -> client.
const (
	MessageTypeRecognizerStart MessageType = "recognizer.start"
	MessageTypeRecognizerStop  MessageType = "recognizer.stop"
	MessageTypeTranscript      MessageType = "transcript"
	MessageTypeSilence         MessageType = "silence"
	MessageTypeState           MessageType = "state"
	MessageTypeSubmitted       MessageType = "submitted"
	MessageTypeError           MessageType = "error"
)

// Client -> server. Recognizer errors reuse MessageTypeError.
const (
	MessageTypeStart      MessageType = "start"
	MessageTypeStop       MessageType = "stop"
	MessageTypeReset      MessageType = "reset"
	MessageTypeResult     MessageType = "result"
	MessageTypeEnd        MessageType = "end"
	MessageTypeAck        MessageType = "ack"
	MessageTypePermission MessageType = "permission"
)

// WSMessage is an outgoing message.
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inboundMessage keeps the payload raw until the type is known.
type inboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RecognizerStartMessage asks the browser to start its recognizer.
type RecognizerStartMessage struct {
	Language string `json:"language"`
}

// TextMessage carries a transcript.
type TextMessage struct {
	Text string `json:"text"`
}

// ErrorMessage contains error information. Code is a recognizer error code
// or one of the bridge codes below.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// SubmittedMessage reports an utterance the owner accepted.
type SubmittedMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PermissionMessage is the browser's answer to the microphone prompt.
type PermissionMessage struct {
	Granted bool `json:"granted"`
}

const (
	codeInvalidMessage = "INVALID_MESSAGE"
	codeUnknownMessage = "UNKNOWN_MESSAGE_TYPE"
	codeSubmitFailed   = "SUBMIT_FAILED"
)
