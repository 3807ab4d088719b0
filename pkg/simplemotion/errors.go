// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned by session operations while the bus handle is
// not open.
var ErrNotConnected = errors.New("simplemotion: bus handle is not open")

// ConnectError reports a failure to open the bus link.
type ConnectError struct {
	Device string
	Code   StatusCode
	Err    error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("bus open failed for %q (code %s); check the device name and that it is not locked by another program", e.Device, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SetParameterError reports a rejected register write.
type SetParameterError struct {
	Parameter Parameter
	Value     int32
	Code      StatusCode
}

func (e *SetParameterError) Error() string {
	return fmt.Sprintf("could not set drive parameter %s to %d (code %s)", e.Parameter, e.Value, e.Code)
}

// ReadParameterError reports a failed register read.
type ReadParameterError struct {
	Parameter Parameter
	Code      StatusCode
}

func (e *ReadParameterError) Error() string {
	return fmt.Sprintf("could not read drive parameter %s (code %s)", e.Parameter, e.Code)
}

// GetStatusError reports a cumulative bus status holding error bits.
type GetStatusError struct {
	Code StatusCode
	Raw  int64
}

func (e *GetStatusError) Error() string {
	return fmt.Sprintf("failed to read drive status (code %s, cumulative %s)", e.Code, FormatCumulative(e.Raw))
}

// ResetStatusError reports a failed cumulative status reset.
type ResetStatusError struct {
	Code StatusCode
}

func (e *ResetStatusError) Error() string {
	return fmt.Sprintf("failed to reset drive status (code %s)", e.Code)
}

// ValueConversionError reports a value that does not fit a 32 bit register.
type ValueConversionError struct {
	Value float64
}

func (e *ValueConversionError) Error() string {
	return fmt.Sprintf("value conversion failed: %g does not fit a 32 bit register", e.Value)
}

// ScalingError reports a scaling constant the drive returned as zero or
// negative.
type ScalingError struct {
	Parameter Parameter
	Value     float64
}

func (e *ScalingError) Error() string {
	return fmt.Sprintf("drive reported invalid scaling constant %s = %g (must be positive)", e.Parameter, e.Value)
}
