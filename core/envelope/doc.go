// Package envelope defines the unit of work exchanged between binding callers
// and actors.
//
// A caller submits a textual message, a JSON frame tagged with the operation
// name:
//
//	{"type": "GetBalance", "payload": {"accountId": "2f1c..."}}
//
// A [Registry] decodes the frame into one of a fixed set of request variants
// (each implementing [Request]) and validates it: struct tags are checked with
// govalidator and variants may add a Validate method. Frames may carry a
// "version" which must satisfy the registry's semver constraint. Every decode
// failure wraps [ErrMalformedMessage] so the runtime can reject the message
// synchronously before any actor sees it.
//
// The decoded request is wrapped in an immutable [Envelope] together with a
// correlation id and the submission time.
package envelope
