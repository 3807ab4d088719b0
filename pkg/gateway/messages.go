// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"math"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/pkg/errors"
)

// Request and response builders. Keys follow the payload key constants.

// NewReadRequest creates a READ_REQUEST packet (0x10).
func NewReadRequest(node uint8, param int16) *Packet {
	return NewPacket(node, MsgReadRequest, map[int]interface{}{
		KeyParam: int64(param),
	})
}

// NewWriteRequest creates a WRITE_REQUEST packet (0x11).
func NewWriteRequest(node uint8, param int16, value int32) *Packet {
	return NewPacket(node, MsgWriteRequest, map[int]interface{}{
		KeyParam: int64(param),
		KeyValue: int64(value),
	})
}

// NewReadResponse creates a READ_RESPONSE packet (0x20).
func NewReadResponse(node uint8, param int16, status simplemotion.StatusCode, value int32) *Packet {
	return NewPacket(node, MsgReadResponse, map[int]interface{}{
		KeyParam:  int64(param),
		KeyStatus: int64(status),
		KeyResult: int64(value),
	})
}

// NewWriteResponse creates a WRITE_RESPONSE packet (0x21).
func NewWriteResponse(node uint8, param int16, status simplemotion.StatusCode) *Packet {
	return NewPacket(node, MsgWriteResponse, map[int]interface{}{
		KeyParam:  int64(param),
		KeyStatus: int64(status),
	})
}

// NewErrorResponse creates an ERROR packet (0xE0).
func NewErrorResponse(node uint8, status simplemotion.StatusCode) *Packet {
	return NewPacket(node, MsgError, map[int]interface{}{
		KeyErrorStatus: int64(status),
	})
}

// Response is a decoded READ_RESPONSE, WRITE_RESPONSE or ERROR payload.
// ERROR responses carry no parameter; Param is -1.
type Response struct {
	Type   uint8
	Param  int16
	Status simplemotion.StatusCode
	Value  int32
}

// ParseResponse decodes a response packet. A read value outside the int32
// range is reported with status SM_ERR_LENGTH.
func ParseResponse(p *Packet) (Response, error) {
	if err := p.ParseError(); err != nil {
		return Response{}, err
	}
	r := Response{Type: p.Type()}
	m := p.PayloadMap()

	switch r.Type {
	case MsgReadResponse, MsgWriteResponse:
	case MsgError:
		status, ok := GetMapInt(m, KeyErrorStatus)
		if !ok {
			return r, errors.New("error response without status")
		}
		r.Param = -1
		r.Status = simplemotion.StatusFromCode(status)
		return r, nil
	default:
		return r, errors.Errorf("not a response: %s", FormatMessageType(r.Type))
	}

	param, ok := GetMapInt(m, KeyParam)
	if !ok || param < math.MinInt16 || param > math.MaxInt16 {
		return r, errors.New("response without valid parameter id")
	}
	r.Param = int16(param)

	status, ok := GetMapInt(m, KeyStatus)
	if !ok {
		return r, errors.New("response without status")
	}
	r.Status = simplemotion.StatusFromCode(status)

	if r.Type == MsgReadResponse && r.Status.IsOK() {
		v, ok := GetMapInt(m, KeyResult)
		if !ok {
			return r, errors.New("read response without value")
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			r.Status = simplemotion.StatusErrLength
			return r, nil
		}
		r.Value = int32(v)
	}
	return r, nil
}
