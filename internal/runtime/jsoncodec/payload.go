package jsoncodec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	protoMarshal   = protojson.MarshalOptions{EmitUnpopulated: true}
	protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// ErrInvalidJSON is returned when a pre-encoded payload is not valid JSON.
var ErrInvalidJSON = errors.New("payload is not valid JSON")

// EncodePayload serializes a payload for the wire. Protobuf messages use the
// protojson mapping and json.RawMessage values are sent as they are once
// validated. Everything else goes through Marshal.
func EncodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case proto.Message:
		data, err := protoMarshal.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode proto payload: %w", err)
		}
		return data, nil
	case json.RawMessage:
		if !Valid(v) {
			return nil, ErrInvalidJSON
		}
		return v, nil
	default:
		data, err := Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}

// DecodePayload turns wire bytes back into a structured value (maps, slices,
// strings, json.Number, bools or nil). Numbers keep their exact text.
func DecodePayload(data []byte) (any, error) {
	if !Valid(data) {
		return nil, ErrInvalidJSON
	}
	var out any
	if err := payloadConfig.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto decodes wire bytes into target. Protobuf targets use protojson.
func DecodeInto(data []byte, target any) error {
	if msg, ok := target.(proto.Message); ok {
		return protoUnmarshal.Unmarshal(data, msg)
	}
	return Unmarshal(data, target)
}
