// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gateway implements the bridge protocol spoken by the serial and
// websocket gateways that sit between the host and a SimpleMotion bus, and
// a simplemotion.Bus client on top of it.
//
// Frames are byte stuffed and CRC protected:
//
//	0x7E | stuffed(length, node, cbor[msg_type, payload_map], crc_hi, crc_lo) | 0x7F
//
// The CRC-16-CCITT covers length, node and payload.
package gateway

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 58
	// length + node + payload + crc
	MaxFrameSize = 1 + 1 + MaxPayloadSize + 2
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// NodeGateway addresses the gateway itself rather than a drive.
const NodeGateway = 0x00

// Message types - Requests (Host → Gateway) 0x10-0x1F
const (
	MsgReadRequest  = 0x10
	MsgWriteRequest = 0x11
)

// Message types - Responses (Gateway → Host) 0x20-0x2F
const (
	MsgReadResponse  = 0x20
	MsgWriteResponse = 0x21
)

// Message types - Errors 0xE0-0xEF
const (
	MsgError = 0xE0
)

// Payload map keys
const (
	KeyParam  = 0
	KeyValue  = 1 // write request value
	KeyStatus = 1 // response status
	KeyResult = 2 // read response value

	KeyErrorStatus = 0
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateNode
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
