// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// CRCError reports a frame whose checksum did not match.
type CRCError struct {
	Expected uint16
	Got      uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Got)
}

// Decoder is a byte at a time frame decoder.
type Decoder struct {
	state   int
	buffer  []byte // length, node, payload; the CRC input
	length  int
	escaped bool
	crc     uint16
}

// NewDecoder returns an idle decoder.
func NewDecoder() *Decoder {
	return &Decoder{buffer: make([]byte, 0, MaxFrameSize)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
	d.escaped = false
	d.crc = 0
}

// DecodeByte feeds one byte. It returns a packet when a frame completes and
// an error when a frame is rejected. Both are nil otherwise.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// Framing bytes are never stuffed, so they resynchronise the decoder
	// even in the middle of an escape sequence.
	switch b {
	case StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if d.state != stateIdle {
			d.escaped = true
		}
		return nil, nil
	}

	if d.escaped {
		b ^= EscXor
		d.escaped = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, errors.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.buffer = append(d.buffer, b)
		d.state = stateNode

	case stateNode:
		d.buffer = append(d.buffer, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) == 2+d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	default:
		d.Reset()
		return nil, errors.New("data after CRC, expected END byte")
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	if d.state == stateIdle {
		return nil, nil
	}
	defer d.Reset()

	if d.state != stateEnd {
		return nil, errors.Errorf("unexpected END byte in state %d", d.state)
	}
	if d.escaped {
		return nil, errors.New("END byte inside escape sequence")
	}
	if got := CalculateCRC(d.buffer); got != d.crc {
		return nil, &CRCError{Expected: got, Got: d.crc}
	}

	payload := make([]byte, d.length)
	copy(payload, d.buffer[2:])
	return &Packet{
		node:        d.buffer[1],
		cborPayload: payload,
		crc:         d.crc,
		timestamp:   time.Now(),
	}, nil
}
