package store

import (
	"encoding/json"
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
)

// marshalValue converts a fact value to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalValue(v ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT back into a fact value.
// Uses ir.UnmarshalValue, which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalValue(data string) (ir.Value, error) {
	if data == "" {
		return nil, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// marshalHandles converts a firing's fact handles to a JSON array.
func marshalHandles(handles []int64) (string, error) {
	if handles == nil {
		handles = []int64{}
	}
	data, err := json.Marshal(handles)
	if err != nil {
		return "", fmt.Errorf("marshal handles: %w", err)
	}
	return string(data), nil
}

// unmarshalHandles parses a JSON array of fact handles.
func unmarshalHandles(data string) ([]int64, error) {
	if data == "" || data == "[]" {
		return []int64{}, nil
	}
	var handles []int64
	if err := json.Unmarshal([]byte(data), &handles); err != nil {
		return nil, fmt.Errorf("unmarshal handles: %w", err)
	}
	return handles, nil
}
