// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func testScaling() ScalingConstants {
	return ScalingConstants{
		EncoderCounts: 4000,
		PIDFrequency:  2500,
		VelocityLimit: 800,
		InputMul:      1,
		InputDiv:      1,
	}
}

func TestHomeOffsetCounts(t *testing.T) {
	k := testScaling()
	tests := []struct {
		degrees  float64
		expected float64
	}{
		{90, 1000},
		{0, 0},
		{360, 4000},
		{-45, -500},
		{0.05, 1}, // 0.555 rounds up
		{0.04, 0}, // 0.444 rounds down
	}

	for _, tt := range tests {
		if got := k.HomeOffsetCounts(tt.degrees); got != tt.expected {
			t.Errorf("HomeOffsetCounts(%g) = %g, expected %g", tt.degrees, got, tt.expected)
		}
	}
}

func TestSetpointConversions(t *testing.T) {
	k := testScaling()
	k.InputDiv = 4

	// 1600 * 2500 / 4000 / 4 = 250
	if got := k.SetpointToRPS(1600); got != 250 {
		t.Errorf("SetpointToRPS(1600) = %g, expected 250", got)
	}
	if got := k.RPSToSetpoint(250); got != 1600 {
		t.Errorf("RPSToSetpoint(250) = %g, expected 1600", got)
	}
	// Feedback is not input scaled: 16 * 2500 / 4000 = 10
	if got := k.FeedbackToRPS(16); got != 10 {
		t.Errorf("FeedbackToRPS(16) = %g, expected 10", got)
	}
	// 800 * 2500 / 4000 = 500
	if got := k.VelocityLimitRPS(); got != 500 {
		t.Errorf("VelocityLimitRPS() = %g, expected 500", got)
	}
}

func TestSetpoint_RoundTrip(t *testing.T) {
	rng := newTestRng(t)
	for i := 0; i < 2000; i++ {
		k := ScalingConstants{
			EncoderCounts: float64(4 * (1 + rng.Intn(10000))),
			PIDFrequency:  float64(1 + rng.Intn(20000)),
			VelocityLimit: 1,
			InputMul:      float64(1 + rng.Intn(100)),
			InputDiv:      float64(1 + rng.Intn(100)),
		}
		x := rng.Int31n(1<<24) - 1<<23

		back := k.RPSToSetpoint(k.SetpointToRPS(x))
		if math.Abs(back-float64(x)) > 1 {
			t.Fatalf("round trip of %d with %s gave %g", x, k, back)
		}
	}
}

func TestRegisterValue(t *testing.T) {
	if v, err := RegisterValue(-1000); err != nil || v != -1000 {
		t.Errorf("RegisterValue(-1000) = %d, %v", v, err)
	}
	if v, err := RegisterValue(math.MaxInt32); err != nil || v != math.MaxInt32 {
		t.Errorf("RegisterValue(MaxInt32) = %d, %v", v, err)
	}

	for _, bad := range []float64{math.MaxInt32 + 1, math.MinInt32 - 1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := RegisterValue(bad)
		var convErr *ValueConversionError
		if !errors.As(err, &convErr) {
			t.Errorf("RegisterValue(%g): expected ValueConversionError, got %v", bad, err)
		}
	}
}

func TestScalingConstants_Validate(t *testing.T) {
	if err := testScaling().Validate(); err != nil {
		t.Fatalf("valid constants rejected: %v", err)
	}

	k := testScaling()
	k.InputMul = 0
	k.InputDiv = -1
	var scalingErr *ScalingError
	if err := k.Validate(); !errors.As(err, &scalingErr) {
		t.Fatalf("expected ScalingError, got %v", err)
	}
	if scalingErr.Parameter != InputMul {
		t.Errorf("expected first bad constant input_mul, got %s", scalingErr.Parameter)
	}

	k = testScaling()
	k.PIDFrequency = math.NaN()
	if err := k.Validate(); err == nil {
		t.Error("NaN constant accepted")
	}
}

func TestParseFamily(t *testing.T) {
	for _, name := range []string{"", "pid-divider", "PID-Divider"} {
		f, err := ParseFamily(name)
		if err != nil || f != FamilyPIDDivider {
			t.Errorf("ParseFamily(%q) = %q, %v", name, f, err)
		}
	}

	_, err := ParseFamily("legacy-multiplier")
	if !errors.Is(err, ErrUnsupportedFamily) {
		t.Errorf("expected ErrUnsupportedFamily, got %v", err)
	}

	_, err = ParseFamily("other")
	if err == nil || errors.Is(err, ErrUnsupportedFamily) {
		t.Errorf("expected unknown family error, got %v", err)
	}
}

func newTestRng(t *testing.T) *rand.Rand {
	seed := int64(0x5EED)
	t.Logf("Seed: %d", seed)
	return rand.New(rand.NewSource(seed))
}
