// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Encode returns the wire form of p.
func Encode(p *Packet) ([]byte, error) {
	return EncodeFrame(p.Node(), p.Type(), p.PayloadMap())
}

// EncodeFrame builds a complete frame, including framing bytes and byte
// stuffing.
func EncodeFrame(node uint8, msgType uint8, payload map[int]interface{}) ([]byte, error) {
	body, err := encodeCBORPayload(msgType, payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode CBOR payload")
	}
	if len(body) > MaxPayloadSize {
		return nil, errors.Errorf("CBOR payload too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	data := make([]byte, 0, 2+len(body)+2)
	data = append(data, uint8(len(body)), node)
	data = append(data, body...)
	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, StartByte)
	frame = appendStuffed(frame, data)
	frame = append(frame, EndByte)
	return frame, nil
}

func encodeCBORPayload(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	var body interface{}
	if len(payload) > 0 {
		body = payload
	}
	return cbor.Marshal([]interface{}{uint64(msgType), body})
}

// appendStuffed escapes START, END and ESC bytes.
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		switch b {
		case StartByte, EndByte, EscByte:
			dst = append(dst, EscByte, b^EscXor)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// UnstuffBytes reverses byte stuffing.
func UnstuffBytes(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^EscXor)
			escaped = false
		case b == EscByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, errors.New("incomplete escape sequence at end of data")
	}
	return out, nil
}
