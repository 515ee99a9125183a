// Package pagewire is the vocabulary the web application page speaks with its
// bridge. No page type maps onto a relay kind, so a page cannot forge an
// internal relay message.
package pagewire

import (
	"encoding/json"
	"fmt"
)

// Type is the page-side message type.
type Type string

const (
	TypePing            Type = "LECTURESNAP_PING"
	TypePong            Type = "LECTURESNAP_PONG"
	TypeCaptureRequest  Type = "LECTURESNAP_CAPTURE_REQUEST"
	TypeSeekRequest     Type = "LECTURESNAP_SEEK_REQUEST"
	TypeCaptureResponse Type = "LECTURESNAP_CAPTURE_RESPONSE"
	TypeSeekDone        Type = "LECTURESNAP_SEEK_DONE"
	TypeCaptureError    Type = "LECTURESNAP_CAPTURE_ERROR"
)

// Message is a page-side message. Fields beyond Type depend on the type.
type Message struct {
	Type      Type     `json:"type"`
	RequestID string   `json:"requestId,omitempty"`
	Data      string   `json:"data,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Window identifies a browsing context (window or frame) a page event came from.
type Window string

// Event is a message as delivered by the page's window messaging surface.
type Event struct {
	Source Window
	Origin string
	Data   json.RawMessage
}

func Pong() Message { return Message{Type: TypePong} }

func CaptureResponse(id, image string, ts float64) Message {
	return Message{Type: TypeCaptureResponse, RequestID: id, Data: image, Timestamp: &ts}
}

func SeekDone(id string, ts float64) Message {
	return Message{Type: TypeSeekDone, RequestID: id, Timestamp: &ts}
}

func CaptureError(id, msg string) Message {
	return Message{Type: TypeCaptureError, RequestID: id, Message: msg}
}

// Parse decodes event data into a Message.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parse page message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("parse page message: missing type")
	}
	return m, nil
}

// Ts returns the timestamp or zero.
func (m Message) Ts() float64 {
	if m.Timestamp == nil {
		return 0
	}
	return *m.Timestamp
}
