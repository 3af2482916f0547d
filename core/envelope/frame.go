package envelope

import (
	"encoding/json"

	"github.com/codewandler/walletrt-go/internal/codec"
)

// FrameTypeError is the frame type used for every error outcome.
const FrameTypeError = "Error"

// Frame is the textual wire format of both requests and responses:
//
//	{"type": "GetBalance", "payload": {"accountId": "..."}, "version": "1.0.0"}
//
// Responses carry the correlation id of the request in ID.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Version string          `json:"version,omitempty"`
}

// ErrorPayload is the payload of a frame with type [FrameTypeError].
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EncodeFrame serializes payload into a frame of the given type.
func EncodeFrame(typ string, payload any) ([]byte, error) {
	f := Frame{Type: typ}
	if payload != nil {
		data, err := codec.JSON.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = data
	}
	return codec.JSON.Marshal(f)
}

// EncodeError serializes an error frame. It never fails.
func EncodeError(kind, message string) []byte {
	data, err := EncodeFrame(FrameTypeError, ErrorPayload{Kind: kind, Message: message})
	if err != nil {
		return []byte(`{"type":"Error","payload":{"kind":"Internal","message":"failed to encode error"}}`)
	}
	return data
}

// DecodeFrame parses the outer frame without looking at the payload.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := codec.JSON.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}
