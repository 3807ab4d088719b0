// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import "time"

// Handle identifies an open bus link. Negative values are invalid.
type Handle int64

// InvalidHandle is returned by Open implementations that fail without an
// error value.
const InvalidHandle Handle = -1

// Bus is the transport a Session runs on. One register is read or written
// per call. Implementations latch every transaction result into the
// cumulative status until it is reset (see StatusAccumulator).
//
// A Bus is not safe for concurrent use unless the implementation says so.
type Bus interface {
	// SetTimeout sets the per call timeout. It must be called before Open.
	SetTimeout(d time.Duration)
	Open(device string) (Handle, error)
	Close(h Handle) StatusCode
	ReadParameter(h Handle, node uint8, param int16) (StatusCode, int32)
	WriteParameter(h Handle, node uint8, param int16, value int32) StatusCode
	CumulativeStatus(h Handle) int64
	ResetCumulativeStatus(h Handle) StatusCode
}
