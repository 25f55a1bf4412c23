// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ParseMessage decodes a CBOR [msg_type, payload_map] message.
// The returned map is nil for an empty payload.
func ParseMessage(data []byte) (uint8, map[int]any, error) {
	if len(data) == 0 {
		return 0, nil, errors.New("empty CBOR payload")
	}

	var msg []any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}
	if t > 0xFF {
		return 0, nil, fmt.Errorf("message type out of range: %d", t)
	}

	if msg[1] == nil {
		return uint8(t), nil, nil
	}

	raw, ok := msg[1].(map[any]any)
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload := make(map[int]any, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return uint8(t), payload, nil
}

// encodeMessage builds the CBOR [msg_type, payload_map] body of a frame
func encodeMessage(msgType uint8, payload map[int]any) ([]byte, error) {
	var body any
	if len(payload) == 0 {
		body = []any{uint64(msgType), nil}
	} else {
		body = []any{uint64(msgType), payload}
	}
	return cbor.Marshal(body)
}

// GetUint extracts a non-negative integer from a payload map
func GetUint(m map[int]any, key int) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

// GetInt extracts a signed integer from a payload map
func GetInt(m map[int]any, key int) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// GetFloat extracts a number from a payload map as float64
func GetFloat(m map[int]any, key int) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// GetBool extracts a bool from a payload map
func GetBool(m map[int]any, key int) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// GetBytes extracts a byte string from a payload map
func GetBytes(m map[int]any, key int) ([]byte, bool) {
	v, ok := m[key].([]byte)
	return v, ok
}
