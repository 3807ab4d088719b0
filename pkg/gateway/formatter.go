// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPacket renders a packet on one line for debug logs.
func FormatPacket(p *Packet) string {
	var s strings.Builder
	fmt.Fprintf(&s, "[%s] %s (0x%02X) node=%d",
		p.Timestamp().Format("15:04:05.000"), FormatMessageType(p.Type()), p.Type(), p.Node())
	if err := p.ParseError(); err != nil {
		fmt.Fprintf(&s, " parse error: %v", err)
		return s.String()
	}
	if m := p.PayloadMap(); len(m) > 0 {
		s.WriteString(" ")
		s.WriteString(FormatPayloadMap(p.Type(), m))
	}
	return s.String()
}

// FormatMessageType returns the name of a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgReadRequest:
		return "READ_REQUEST"
	case MsgWriteRequest:
		return "WRITE_REQUEST"
	case MsgReadResponse:
		return "READ_RESPONSE"
	case MsgWriteResponse:
		return "WRITE_RESPONSE"
	case MsgError:
		return "ERROR"
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", msgType)
}

// FormatPayloadMap renders a payload map with named keys where known.
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", keyName(msgType, k), m[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func keyName(msgType uint8, key int) string {
	switch {
	case msgType == MsgError && key == KeyErrorStatus:
		return "status"
	case key == KeyParam:
		return "param"
	case key == KeyValue && msgType == MsgWriteRequest:
		return "value"
	case key == KeyStatus && (msgType == MsgReadResponse || msgType == MsgWriteResponse):
		return "status"
	case key == KeyResult && msgType == MsgReadResponse:
		return "value"
	}
	return fmt.Sprintf("%d", key)
}
