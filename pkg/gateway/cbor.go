// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ParseCBORMessage parses a [msg_type, payload_map] message. The payload is
// nil when the message carries none.
func ParseCBORMessage(data []byte) (msgType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, errors.New("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, errors.Wrap(err, "decode CBOR")
	}
	if len(msg) != 2 {
		return 0, nil, errors.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, errors.Errorf("expected uint for message type, got %T", msg[0])
	}
	if t > 255 {
		return 0, nil, errors.Errorf("message type out of range: %d", t)
	}
	msgType = uint8(t)

	if msg[1] == nil {
		return msgType, nil, nil
	}
	m, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, errors.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload = make(map[int]interface{}, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, errors.Errorf("expected integer map key, got %T", key)
		}
	}
	return msgType, payload, nil
}

// GetMapInt extracts an integer from a payload map.
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		if val > 1<<63-1 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

// GetMapUint extracts a non-negative integer from a payload map.
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}
