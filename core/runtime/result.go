package runtime

import (
	"encoding/json"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/internal/codec"
)

// Result is the terminal outcome of one submitted message.
type Result struct {
	CorrelationID string
	// Type is the request variant, e.g. "GetBalance".
	Type  string
	Value any
	Err   error
}

func (r Result) Kind() Kind { return KindOf(r.Err) }

// Callback receives the Result of a message. It is invoked exactly once per
// accepted message, from a runtime goroutine, and must not block for long.
type Callback func(Result)

// ResponseType is the frame type of a successful reply to msgType.
func ResponseType(msgType string) string { return msgType + "Response" }

// Encode renders r as a response frame:
//
//	{"type":"GetBalanceResponse","id":"...","payload":{...}}
//	{"type":"Error","id":"...","payload":{"kind":"OperationFailed","message":"..."}}
func (r Result) Encode() []byte {
	f := envelope.Frame{ID: r.CorrelationID}
	var payload any
	if r.Err != nil {
		f.Type = envelope.FrameTypeError
		payload = envelope.ErrorPayload{Kind: r.Kind().String(), Message: r.Err.Error()}
	} else {
		f.Type = ResponseType(r.Type)
		payload = r.Value
	}

	if payload != nil {
		data, err := codec.JSON.Marshal(payload)
		if err != nil {
			return envelope.EncodeError(KindOperationFailed.String(), "failed to encode response: "+err.Error())
		}
		f.Payload = json.RawMessage(data)
	}

	data, err := codec.JSON.Marshal(f)
	if err != nil {
		return envelope.EncodeError(KindOperationFailed.String(), "failed to encode response: "+err.Error())
	}
	return data
}
