// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import "time"

// Packet is a decoded gateway frame.
type Packet struct {
	node        uint8
	cborPayload []byte // [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewPacket builds a packet from a message type and payload map.
func NewPacket(node uint8, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		node:       node,
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
}

// Node returns the drive node address the frame belongs to.
func (p *Packet) Node() uint8 { return p.node }

// Type returns the message type.
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// PayloadMap returns the decoded payload (nil for empty payloads).
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// Payload returns the raw CBOR bytes of a decoded frame.
func (p *Packet) Payload() []byte { return p.cborPayload }

// ParseError returns any error from decoding the CBOR payload.
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the frame checksum.
func (p *Packet) CRC() uint16 { return p.crc }

// Timestamp returns when the frame was completed.
func (p *Packet) Timestamp() time.Time { return p.timestamp }
