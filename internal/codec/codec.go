// Package codec encodes the JSON frames exchanged with binding callers.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrTrailingData = errors.New("codec: trailing data after JSON value")

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec produces compact JSON. Unmarshal rejects unknown trailing data.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return ErrTrailingData
	}
	return nil
}

// IndentCodec is used for human-facing output (CLI).
type IndentCodec struct{ JSONCodec }

func (IndentCodec) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

var (
	JSON   Codec = JSONCodec{}
	Indent Codec = IndentCodec{}
)
