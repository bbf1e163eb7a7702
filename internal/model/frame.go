package model

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrMissingEvent = errors.New("frame has no event name")
)

// Frame is the JSON envelope used in both directions on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame builds the wire bytes for an outbound frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}

	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = data
	}

	return json.Marshal(f)
}

// DecodeFrame parses wire bytes into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}
