package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// The codec uses deterministic encoding and a hardened decoder: indefinite
// lengths are rejected, duplicate map keys are errors, and container sizes
// are capped well above anything a valid message needs.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
		MaxNestedLevels:  8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalRequest validates and encodes a request. Invalid requests are
// never put on the wire.
func MarshalRequest(r *Request) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return encMode.Marshal(r)
}

// UnmarshalRequest decodes and validates an untrusted request payload.
func UnmarshalRequest(data []byte) (*Request, error) {
	var r Request
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &r, nil
}

// MarshalResponse validates and encodes a response.
func MarshalResponse(r *Response) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return encMode.Marshal(r)
}

// UnmarshalResponse decodes and validates an untrusted response payload.
// Bounds are enforced here, before any field reaches a parser.
func UnmarshalResponse(data []byte) (*Response, error) {
	var r Response
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &r, nil
}
