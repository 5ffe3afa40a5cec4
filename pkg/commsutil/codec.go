package commsutil

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes payloads carried over COMMS.
type Codec interface {
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Encode serializes a value to JSON bytes.
func (JSONCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Decode deserializes JSON bytes into the given target.
func (JSONCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// CBORCodec encodes payloads as CBOR (RFC 8949). Struct fields fall back to
// their json tags, so wire types need no extra annotations.
type CBORCodec struct {
	dec cbor.DecMode
}

// NewCBORCodec creates a CBORCodec that decodes maps as map[string]interface{}.
func NewCBORCodec() (*CBORCodec, error) {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("commsutil:codec - cbor decode mode: %w", err)
	}
	return &CBORCodec{dec: dec}, nil
}

// Name returns "cbor".
func (c *CBORCodec) Name() string { return "cbor" }

// Encode serializes a value to CBOR bytes.
func (c *CBORCodec) Encode(v interface{}) ([]byte, error) { return cbor.Marshal(v) }

// Decode deserializes CBOR bytes into the given target.
func (c *CBORCodec) Decode(data []byte, v interface{}) error { return c.dec.Unmarshal(data, v) }

// CodecByName returns the codec for "json" (or empty) and "cbor".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("commsutil:codec - unknown codec %q", name)
	}
}

// ToJSON re-encodes a payload in codec c as JSON, so message decoding can
// rely on json.RawMessage regardless of the wire codec.
func ToJSON(c Codec, data []byte) ([]byte, error) {
	if _, ok := c.(JSONCodec); ok {
		return data, nil
	}
	var generic interface{}
	if err := c.Decode(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
