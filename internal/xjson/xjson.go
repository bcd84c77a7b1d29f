// Package xjson routes JSON encoding through goccy/go-json from a single
// import site.
package xjson

import (
	stdjson "encoding/json"
	"io"

	gjson "github.com/goccy/go-json"
)

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// NewEncoder returns a goccy encoder writing to w.
func NewEncoder(w io.Writer) *gjson.Encoder {
	return gjson.NewEncoder(w)
}

// NewDecoder returns a goccy decoder reading from r.
func NewDecoder(r io.Reader) *gjson.Decoder {
	return gjson.NewDecoder(r)
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage
