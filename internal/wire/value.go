// Package wire holds the types that cross process boundaries: the HTTP
// request/response bodies between coordinator and shard, and the
// self-describing event shipped over the replication bus. Nothing in
// the rest of the module inspects a record's value; it only ever
// passes this type around.
package wire

import (
	"bytes"
	"encoding/json"
)

// Value is an arbitrary JSON document attached to a record. The core
// never looks inside it — it is marshaled/unmarshaled losslessly across
// HTTP and the bus and compared only for nil-ness.
type Value struct {
	raw json.RawMessage
}

// NewValue wraps v (any JSON-marshalable value, including nil) as a Value.
func NewValue(v any) (Value, error) {
	if v == nil {
		return Value{raw: json.RawMessage("null")}, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return Value{raw: append(json.RawMessage(nil), raw...)}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value{raw: b}, nil
}

// IsNull reports whether the value is JSON null or unset.
func (v Value) IsNull() bool {
	return len(v.raw) == 0 || bytes.Equal(bytes.TrimSpace(v.raw), []byte("null"))
}

// Raw returns the underlying JSON bytes.
func (v Value) Raw() json.RawMessage {
	return v.raw
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	v.raw = append(json.RawMessage(nil), b...)
	return nil
}
