// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simplemotion drives a single servo/spindle drive on a SimpleMotion
// bus.
//
// The package sits on top of a narrow bus link (see Bus) and provides the
// parameter codec, status and fault decoding, unit conversion between drive
// register units and revolutions per second, a velocity feedback filter and a
// Session that ties them together.
//
// All conversions use the PID-frequency/input-divider formula family. The
// simpler multiplier family found on older firmware is recognised by name
// and rejected (see ParseFamily).
package simplemotion
