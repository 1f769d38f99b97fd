package operation

import (
	"encoding/json"
	"fmt"

	"github.com/fluxorio/runlog/pkg/core"
)

// ErrUnknownType is returned when decoding meets a discriminator this
// build does not know. The caller decides whether that is fatal; the disk
// queue reader treats it like any other undecodable record and skips it.
var ErrUnknownType = &core.Error{Code: "UNKNOWN_OPERATION", Message: "unknown operation type"}

// encodeJSON wraps json.Marshal as the serialization failure the pipeline
// reports for operations that cannot be encoded.
func encodeJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.Errorc("SERIALIZATION", "encode operation: %v", err)
	}
	return data, nil
}

// decodeJSON is the matching decode half; an empty payload is as corrupt as
// an unparseable one.
func decodeJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return core.Errorc("SERIALIZATION", "decode operation: empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.Errorc("SERIALIZATION", "decode operation: %v", err)
	}
	return nil
}

// Encode serializes an operation as a self-describing JSON object with a
// "type" discriminator alongside the variant's own fields.
func Encode(op Operation) ([]byte, error) {
	if op == nil {
		return nil, &core.Error{Code: "INVALID_INPUT", Message: "cannot encode nil operation"}
	}
	switch v := op.(type) {
	case *AssignFloat:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AssignFloat
		}{v.OpType(), v})
	case *AssignInt:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AssignInt
		}{v.OpType(), v})
	case *AssignBool:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AssignBool
		}{v.OpType(), v})
	case *AssignString:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AssignString
		}{v.OpType(), v})
	case *AssignDatetime:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AssignDatetime
		}{v.OpType(), v})
	case *LogFloats:
		return encodeJSON(struct {
			Type string `json:"type"`
			*LogFloats
		}{v.OpType(), v})
	case *LogStrings:
		return encodeJSON(struct {
			Type string `json:"type"`
			*LogStrings
		}{v.OpType(), v})
	case *AddStrings:
		return encodeJSON(struct {
			Type string `json:"type"`
			*AddStrings
		}{v.OpType(), v})
	case *RemoveStrings:
		return encodeJSON(struct {
			Type string `json:"type"`
			*RemoveStrings
		}{v.OpType(), v})
	case *DeleteAttribute:
		return encodeJSON(struct {
			Type string `json:"type"`
			*DeleteAttribute
		}{v.OpType(), v})
	case *UploadFile:
		return encodeJSON(struct {
			Type string `json:"type"`
			*UploadFile
		}{v.OpType(), v})
	default:
		return nil, core.Errorc("UNKNOWN_OPERATION", "cannot encode operation type %T", op)
	}
}

// Decode parses a JSON object produced by Encode back into its variant.
func Decode(data []byte) (Operation, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := decodeJSON(data, &head); err != nil {
		return nil, err
	}

	var op Operation
	switch head.Type {
	case TypeAssignFloat:
		op = &AssignFloat{}
	case TypeAssignInt:
		op = &AssignInt{}
	case TypeAssignBool:
		op = &AssignBool{}
	case TypeAssignString:
		op = &AssignString{}
	case TypeAssignDatetime:
		op = &AssignDatetime{}
	case TypeLogFloatSeries:
		op = &LogFloats{}
	case TypeLogStringSeries:
		op = &LogStrings{}
	case TypeAddStrings:
		op = &AddStrings{}
	case TypeRemoveStrings:
		op = &RemoveStrings{}
	case TypeDeleteAttribute:
		op = &DeleteAttribute{}
	case TypeUploadFile:
		op = &UploadFile{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := decodeJSON(data, op); err != nil {
		return nil, err
	}
	return op, nil
}

// versionedWire is the framing payload: {"version": <u64>, "op": {...}}.
type versionedWire struct {
	Version uint64          `json:"version"`
	Op      json.RawMessage `json:"op"`
}

// EncodeVersioned serializes a versioned operation for the durable log.
func EncodeVersioned(v Versioned) ([]byte, error) {
	opData, err := Encode(v.Op)
	if err != nil {
		return nil, err
	}
	return encodeJSON(versionedWire{Version: v.Version, Op: opData})
}

// DecodeVersioned parses one durable log payload.
func DecodeVersioned(data []byte) (Versioned, error) {
	var wire versionedWire
	if err := decodeJSON(data, &wire); err != nil {
		return Versioned{}, err
	}
	op, err := Decode(wire.Op)
	if err != nil {
		return Versioned{}, err
	}
	return Versioned{Version: wire.Version, Op: op}, nil
}
