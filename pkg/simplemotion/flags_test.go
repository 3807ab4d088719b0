// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	undefinedStatusBits = uint32(1<<0 | 1<<9 | 1<<14 | 0xFFF00000)
	undefinedFaultBits  = uint32(1<<0 | 0xFFFE0000)
)

func TestDecodeStatus_Bits(t *testing.T) {
	s := DecodeStatus(StatRun | StatHoming | StatEnabled)
	expected := StatusFlags{Run: true, Homing: true, Enabled: true}
	if diff := cmp.Diff(expected, s); diff != "" {
		t.Errorf("DecodeStatus mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"run", "enabled", "homing"}, s.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatus_EveryBit(t *testing.T) {
	for _, b := range statusBits {
		s := DecodeStatus(b.mask)
		names := s.Names()
		if len(names) != 1 || names[0] != b.name {
			t.Errorf("mask 0x%X decoded to %v, expected [%s]", b.mask, names, b.name)
		}
	}
}

func TestDecodeFaults_EveryBit(t *testing.T) {
	for _, b := range faultBits {
		f := DecodeFaults(b.mask)
		if !f.Any() {
			t.Errorf("mask 0x%X: Any() should be true", b.mask)
		}
		names := f.Names()
		if len(names) != 1 || names[0] != b.name {
			t.Errorf("mask 0x%X decoded to %v, expected [%s]", b.mask, names, b.name)
		}
	}
}

func TestDecode_UndefinedBitsIgnored(t *testing.T) {
	if s := DecodeStatus(undefinedStatusBits); s != (StatusFlags{}) {
		t.Errorf("undefined status bits produced flags: %s", s)
	}
	if f := DecodeFaults(undefinedFaultBits); f.Any() {
		t.Errorf("undefined fault bits produced faults: %s", f)
	}
}

func TestDecode_Pure(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		raw := rng.Uint32()

		if DecodeStatus(raw) != DecodeStatus(raw) {
			t.Fatalf("status decode of 0x%08X not deterministic", raw)
		}
		if DecodeStatus(raw) != DecodeStatus(raw|undefinedStatusBits) {
			t.Fatalf("undefined status bits changed decode of 0x%08X", raw)
		}
		if DecodeStatus(raw) != DecodeStatus(raw&^undefinedStatusBits) {
			t.Fatalf("clearing undefined status bits changed decode of 0x%08X", raw)
		}

		if DecodeFaults(raw) != DecodeFaults(raw) {
			t.Fatalf("fault decode of 0x%08X not deterministic", raw)
		}
		if DecodeFaults(raw) != DecodeFaults(raw|undefinedFaultBits) {
			t.Fatalf("undefined fault bits changed decode of 0x%08X", raw)
		}
	}
}

func TestFlags_String(t *testing.T) {
	if got := DecodeFaults(0).String(); got != "none" {
		t.Errorf("expected none, got %s", got)
	}
	if got := DecodeFaults(FltOverCurrent | FltConfig).String(); got != "overcurrent,config" {
		t.Errorf("unexpected fault string: %s", got)
	}
	if got := DecodeStatus(StatStandby).String(); got != "standby" {
		t.Errorf("unexpected status string: %s", got)
	}
}
