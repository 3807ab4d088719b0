// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code     int64
		expected StatusCode
	}{
		{0, StatusNone},
		{1, StatusOK},
		{2, StatusErrNoDevice},
		{4, StatusErrBus},
		{8, StatusErrCommunication},
		{16, StatusErrParameter},
		{32, StatusErrLength},
		{3, StatusUnknown},
		{64, StatusUnknown},
		{-1, StatusUnknown},
		{-2, StatusUnknown},
		{1 << 40, StatusUnknown},
	}

	for _, tt := range tests {
		if got := StatusFromCode(tt.code); got != tt.expected {
			t.Errorf("StatusFromCode(%d) = %s, expected %s", tt.code, got, tt.expected)
		}
	}
}

func TestStatusCode_IsOK(t *testing.T) {
	if !StatusOK.IsOK() {
		t.Error("SM_OK should be OK")
	}
	for _, c := range []StatusCode{StatusNone, StatusErrBus, StatusUnknown} {
		if c.IsOK() {
			t.Errorf("%s should not be OK", c)
		}
	}
}

func TestCumulativeErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      int64
		expected []StatusCode
	}{
		{"ok only", int64(StatusOK), nil},
		{"none", 0, nil},
		{"bus and length", int64(StatusOK | StatusErrBus | StatusErrLength), []StatusCode{StatusErrBus, StatusErrLength}},
		{"negative", -5, []StatusCode{StatusUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, CumulativeErrors(tt.raw)); diff != "" {
				t.Errorf("CumulativeErrors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatCumulative(t *testing.T) {
	if got := FormatCumulative(0); got != "SM_NONE" {
		t.Errorf("expected SM_NONE, got %s", got)
	}
	if got := FormatCumulative(int64(StatusOK | StatusErrParameter)); got != "SM_OK|SM_ERR_PARAMETER" {
		t.Errorf("unexpected format: %s", got)
	}
}

func TestStatusAccumulator(t *testing.T) {
	var acc StatusAccumulator
	acc.Add(StatusOK)
	acc.Add(StatusOK)
	acc.Add(StatusErrCommunication)
	if got := acc.Value(); got != int64(StatusOK|StatusErrCommunication) {
		t.Errorf("expected OK|COMMUNICATION, got %d", got)
	}

	acc.Add(StatusUnknown)
	if got := acc.Value(); got != int64(StatusOK|StatusErrCommunication) {
		t.Errorf("unknown should latch as a communication error, got %d", got)
	}

	acc.Reset()
	if got := acc.Value(); got != 0 {
		t.Errorf("expected 0 after reset, got %d", got)
	}
}
