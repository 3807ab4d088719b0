// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"fmt"
	"strings"
	"sync"
)

// StatusCode is the result code of a single bus transaction.
type StatusCode int

// Bus status codes
const (
	StatusNone             StatusCode = 0
	StatusOK               StatusCode = 1
	StatusErrNoDevice      StatusCode = 2
	StatusErrBus           StatusCode = 4
	StatusErrCommunication StatusCode = 8
	StatusErrParameter     StatusCode = 16
	StatusErrLength        StatusCode = 32
	StatusUnknown          StatusCode = -1
)

// errorCodes lists the error bits in the order they are reported.
var errorCodes = []StatusCode{
	StatusErrNoDevice,
	StatusErrBus,
	StatusErrCommunication,
	StatusErrParameter,
	StatusErrLength,
}

// StatusFromCode maps a raw link result to a StatusCode. Negative and
// unrecognised values map to StatusUnknown.
func StatusFromCode(code int64) StatusCode {
	switch code {
	case 0, 1, 2, 4, 8, 16, 32:
		return StatusCode(code)
	}
	return StatusUnknown
}

// IsOK reports whether the transaction succeeded.
func (c StatusCode) IsOK() bool {
	return c == StatusOK
}

// String returns the firmware name of the code
func (c StatusCode) String() string {
	switch c {
	case StatusNone:
		return "SM_NONE"
	case StatusOK:
		return "SM_OK"
	case StatusErrNoDevice:
		return "SM_ERR_NODEVICE"
	case StatusErrBus:
		return "SM_ERR_BUS"
	case StatusErrCommunication:
		return "SM_ERR_COMMUNICATION"
	case StatusErrParameter:
		return "SM_ERR_PARAMETER"
	case StatusErrLength:
		return "SM_ERR_LENGTH"
	}
	return fmt.Sprintf("SM_UNKNOWN(%d)", int(c))
}

// CumulativeErrors returns the error codes latched in a cumulative status
// value, lowest bit first. A negative value yields StatusUnknown.
func CumulativeErrors(raw int64) []StatusCode {
	if raw < 0 {
		return []StatusCode{StatusUnknown}
	}
	var out []StatusCode
	for _, c := range errorCodes {
		if raw&int64(c) != 0 {
			out = append(out, c)
		}
	}
	return out
}

// FormatCumulative renders a cumulative status value as a list of code names.
func FormatCumulative(raw int64) string {
	if raw < 0 {
		return StatusUnknown.String()
	}
	names := []string{}
	if raw&int64(StatusOK) != 0 {
		names = append(names, StatusOK.String())
	}
	for _, c := range CumulativeErrors(raw) {
		names = append(names, c.String())
	}
	if len(names) == 0 {
		return StatusNone.String()
	}
	return strings.Join(names, "|")
}

// StatusAccumulator latches the status of every transaction on a link until
// it is reset. It backs CumulativeStatus for Bus implementations.
type StatusAccumulator struct {
	mu   sync.Mutex
	bits int64
}

// Add latches a transaction result.
func (a *StatusAccumulator) Add(c StatusCode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c < 0 {
		a.bits |= int64(StatusErrCommunication)
		return
	}
	a.bits |= int64(c)
}

// Value returns the latched status bits.
func (a *StatusAccumulator) Value() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bits
}

// Reset clears the latched bits.
func (a *StatusAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bits = 0
}
