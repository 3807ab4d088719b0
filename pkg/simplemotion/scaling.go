// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Family names a conversion formula set.
type Family string

// Conversion families
const (
	// FamilyPIDDivider scales setpoints by PID frequency and input divider.
	FamilyPIDDivider Family = "pid-divider"
	// FamilyLegacyMultiplier is the `*100/counts` form of older firmware.
	// It is not supported.
	FamilyLegacyMultiplier Family = "legacy-multiplier"
)

// ErrUnsupportedFamily is returned by ParseFamily for a known but
// unsupported formula family.
var ErrUnsupportedFamily = errors.New("unsupported conversion family")

// ParseFamily validates a conversion family name. Only FamilyPIDDivider is
// accepted; the empty string selects it.
func ParseFamily(name string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(name))) {
	case "", FamilyPIDDivider:
		return FamilyPIDDivider, nil
	case FamilyLegacyMultiplier:
		return "", errors.Wrapf(ErrUnsupportedFamily, "family %q", name)
	}
	return "", errors.Errorf("unknown conversion family %q", name)
}

// ScalingConstants parameterize every unit conversion. They are read from
// the drive once at connect time.
type ScalingConstants struct {
	// EncoderCounts is counts per revolution, 4x PPR for quadrature encoders.
	EncoderCounts float64
	PIDFrequency  float64
	VelocityLimit float64
	InputMul      float64
	InputDiv      float64
}

// Validate returns a *ScalingError for the first constant that is not
// strictly positive.
func (k ScalingConstants) Validate() error {
	checks := []struct {
		p Parameter
		v float64
	}{
		{PIDFrequency, k.PIDFrequency},
		{EncoderPpr, k.EncoderCounts},
		{VelocityLimit, k.VelocityLimit},
		{InputMul, k.InputMul},
		{InputDiv, k.InputDiv},
	}
	for _, c := range checks {
		if !(c.v > 0) {
			return &ScalingError{Parameter: c.p, Value: c.v}
		}
	}
	return nil
}

// SetpointToRPS converts an absolute setpoint register value to RPS.
func (k ScalingConstants) SetpointToRPS(raw int32) float64 {
	return float64(raw) * k.PIDFrequency / k.EncoderCounts / k.InputDiv
}

// RPSToSetpoint converts RPS to a setpoint register value, rounded to the
// nearest integer. Use RegisterValue to narrow it.
func (k ScalingConstants) RPSToSetpoint(rps float64) float64 {
	return math.Round(rps * k.EncoderCounts * k.InputDiv / k.PIDFrequency)
}

// FeedbackToRPS converts the velocity feedback register, in counts per PID
// period, to RPS.
func (k ScalingConstants) FeedbackToRPS(raw int32) float64 {
	return float64(raw) * k.PIDFrequency / k.EncoderCounts
}

// HomeOffsetCounts converts an angle relative to the index pulse to encoder
// counts, rounded to the nearest integer.
func (k ScalingConstants) HomeOffsetCounts(degrees float64) float64 {
	return math.Round(k.EncoderCounts / 360.0 * degrees)
}

// VelocityLimitRPS returns the trajectory planner velocity limit in RPS.
func (k ScalingConstants) VelocityLimitRPS() float64 {
	return k.VelocityLimit * k.PIDFrequency / k.EncoderCounts
}

func (k ScalingConstants) String() string {
	return fmt.Sprintf("counts=%g pid=%gHz vlimit=%g mul=%g div=%g",
		k.EncoderCounts, k.PIDFrequency, k.VelocityLimit, k.InputMul, k.InputDiv)
}

// RegisterValue narrows a rounded value into a 32 bit register.
func RegisterValue(v float64) (int32, error) {
	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &ValueConversionError{Value: v}
	}
	return int32(v), nil
}
