// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Parameter identifies a drive register by name.
type Parameter int

// Drive parameters. Not every firmware parameter is listed, only the ones
// the session needs.
const (
	AbsoluteSetpoint Parameter = iota
	Faults
	Status
	ControlModeParam
	HomingControl
	TrajPlannerHomingOffset
	ActualVelocity
	EncoderPpr
	PIDFrequency
	ControlBits1
	InputMul
	InputDiv
	VelocityLimit

	parameterCount
)

var parameterNames = [parameterCount]string{
	AbsoluteSetpoint:        "absolute_setpoint",
	Faults:                  "faults",
	Status:                  "status",
	ControlModeParam:        "control_mode",
	HomingControl:           "homing_control",
	TrajPlannerHomingOffset: "traj_planner_homing_offset",
	ActualVelocity:          "actual_velocity",
	EncoderPpr:              "encoder_ppr",
	PIDFrequency:            "pid_frequency",
	ControlBits1:            "control_bits1",
	InputMul:                "input_mul",
	InputDiv:                "input_div",
	VelocityLimit:           "velocity_limit",
}

// Firmware register addresses (SMP_* in simplemotion_defs.h).
var defaultAddresses = [parameterCount]int16{
	AbsoluteSetpoint:        551,
	Faults:                  552,
	Status:                  553,
	ControlModeParam:        559,
	HomingControl:           2532,
	TrajPlannerHomingOffset: 838,
	ActualVelocity:          903,
	EncoderPpr:              565,
	PIDFrequency:            55,
	ControlBits1:            2533,
	InputMul:                566,
	InputDiv:                567,
	VelocityLimit:           801,
}

// Parameters returns every known parameter in declaration order.
func Parameters() []Parameter {
	out := make([]Parameter, 0, parameterCount)
	for p := Parameter(0); p < parameterCount; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is a known parameter.
func (p Parameter) Valid() bool {
	return p >= 0 && p < parameterCount
}

// String returns the configuration name of the parameter
func (p Parameter) String() string {
	if !p.Valid() {
		return fmt.Sprintf("parameter(%d)", int(p))
	}
	return parameterNames[p]
}

// Address returns the firmware register address of p.
func (p Parameter) Address() int16 {
	return defaultAddresses[p]
}

// ParseParameter looks a parameter up by its configuration name.
func ParseParameter(name string) (Parameter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	for p, n := range parameterNames {
		if n == key {
			return Parameter(p), nil
		}
	}
	return 0, errors.Errorf("unknown parameter %q", name)
}

// RegisterMap maps each parameter to a register address. The zero value is
// not usable; build one with DefaultRegisterMap or NewRegisterMap.
type RegisterMap struct {
	addrs [parameterCount]int16
}

// DefaultRegisterMap returns the firmware address table.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{addrs: defaultAddresses}
}

// NewRegisterMap returns the firmware table with the given overrides
// applied. Keys are parameter names, values register addresses. Every
// problem found is reported.
func NewRegisterMap(overrides map[string]int) (RegisterMap, error) {
	m := DefaultRegisterMap()

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs error
	for _, k := range keys {
		p, err := ParseParameter(k)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		addr := overrides[k]
		if addr < 0 || addr > math.MaxInt16 {
			errs = multierr.Append(errs, errors.Errorf("register %s: address %d out of range", p, addr))
			continue
		}
		m.addrs[p] = int16(addr)
	}

	seen := make(map[int16]Parameter, parameterCount)
	for p := Parameter(0); p < parameterCount; p++ {
		a := m.addrs[p]
		if other, dup := seen[a]; dup {
			errs = multierr.Append(errs, errors.Errorf("register %s: address %d already used by %s", p, a, other))
			continue
		}
		seen[a] = p
	}
	if errs != nil {
		return RegisterMap{}, errs
	}
	return m, nil
}

// Address returns the register address of p in this map.
func (m RegisterMap) Address(p Parameter) int16 {
	return m.addrs[p]
}

// ControlMode is the drive control loop selection.
type ControlMode int32

// Control mode codes (CM_* in simplemotion_defs.h)
const (
	ModeNone     ControlMode = 0
	ModePosition ControlMode = 1
	ModeVelocity ControlMode = 2
	ModeTorque   ControlMode = 3
)

// String returns the human-readable mode name
func (m ControlMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModePosition:
		return "Position"
	case ModeVelocity:
		return "Velocity"
	case ModeTorque:
		return "Torque"
	}
	return fmt.Sprintf("ControlMode(%d)", int32(m))
}

// ParseControlMode accepts the command line spellings of a control mode.
func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pos", "position":
		return ModePosition, nil
	case "vel", "velocity":
		return ModeVelocity, nil
	case "torque":
		return ModeTorque, nil
	case "none":
		return ModeNone, nil
	}
	return ModeNone, errors.Errorf("unknown control mode %q (use pos, vel, torque or none)", s)
}
