package envelope

import (
	"time"
)

// Request is one decoded wallet operation. The variant decides which actor
// receives it.
type Request interface {
	// OpType is the wire name of the variant, e.g. "GetBalance".
	OpType() string
	// ActorID names the actor that owns the state the operation touches.
	ActorID() string
}

// Envelope is one submitted request plus its correlation id. It is immutable:
// all fields are set by New and only exposed through getters.
type Envelope struct {
	correlationID string
	actorID       string
	opType        string
	request       Request
	payload       []byte
	submittedAt   time.Time
}

// New creates an envelope for req. payload is the raw wire payload and may be
// nil for requests submitted in-process.
func New(correlationID string, req Request, payload []byte, submittedAt time.Time) Envelope {
	var p []byte
	if len(payload) > 0 {
		p = make([]byte, len(payload))
		copy(p, payload)
	}
	return Envelope{
		correlationID: correlationID,
		actorID:       req.ActorID(),
		opType:        req.OpType(),
		request:       req,
		payload:       p,
		submittedAt:   submittedAt,
	}
}

func (e Envelope) CorrelationID() string  { return e.correlationID }
func (e Envelope) ActorID() string        { return e.actorID }
func (e Envelope) Type() string           { return e.opType }
func (e Envelope) Request() Request       { return e.request }
func (e Envelope) SubmittedAt() time.Time { return e.submittedAt }

// Payload returns a copy of the raw wire payload.
func (e Envelope) Payload() []byte {
	if e.payload == nil {
		return nil
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out
}

// IsZero reports whether e was never initialized.
func (e Envelope) IsZero() bool { return e.request == nil }
