// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import "strings"

// StatusFlags is a decoded snapshot of the drive status register.
type StatusFlags struct {
	TargetReached        bool
	FerrorRecovery       bool
	Run                  bool
	Enabled              bool
	FaultStop            bool
	FerrorWarning        bool
	STOActive            bool
	ServoReady           bool
	Braking              bool
	Homing               bool
	Initialized          bool
	VoltagesOK           bool
	PermanentStop        bool
	StandingStill        bool
	QuickStopActive      bool
	SafeTorqueModeActive bool
	Standby              bool
}

// Status register bits (STAT_*)
const (
	StatTargetReached        = 1 << 1
	StatFerrorRecovery       = 1 << 2
	StatRun                  = 1 << 3
	StatEnabled              = 1 << 4
	StatFaultStop            = 1 << 5
	StatFerrorWarning        = 1 << 6
	StatSTOActive            = 1 << 7
	StatServoReady           = 1 << 8
	StatBraking              = 1 << 10
	StatHoming               = 1 << 11
	StatInitialized          = 1 << 12
	StatVoltagesOK           = 1 << 13
	StatPermanentStop        = 1 << 15
	StatStandingStill        = 1 << 16
	StatQuickStopActive      = 1 << 17
	StatSafeTorqueModeActive = 1 << 18
	StatStandby              = 1 << 19
)

type statusBit struct {
	mask  uint32
	name  string
	field func(*StatusFlags) *bool
}

var statusBits = []statusBit{
	{StatTargetReached, "target_reached", func(s *StatusFlags) *bool { return &s.TargetReached }},
	{StatFerrorRecovery, "ferror_recovery", func(s *StatusFlags) *bool { return &s.FerrorRecovery }},
	{StatRun, "run", func(s *StatusFlags) *bool { return &s.Run }},
	{StatEnabled, "enabled", func(s *StatusFlags) *bool { return &s.Enabled }},
	{StatFaultStop, "faultstop", func(s *StatusFlags) *bool { return &s.FaultStop }},
	{StatFerrorWarning, "ferror_warning", func(s *StatusFlags) *bool { return &s.FerrorWarning }},
	{StatSTOActive, "sto_active", func(s *StatusFlags) *bool { return &s.STOActive }},
	{StatServoReady, "servo_ready", func(s *StatusFlags) *bool { return &s.ServoReady }},
	{StatBraking, "braking", func(s *StatusFlags) *bool { return &s.Braking }},
	{StatHoming, "homing", func(s *StatusFlags) *bool { return &s.Homing }},
	{StatInitialized, "initialized", func(s *StatusFlags) *bool { return &s.Initialized }},
	{StatVoltagesOK, "voltages_ok", func(s *StatusFlags) *bool { return &s.VoltagesOK }},
	{StatPermanentStop, "permanent_stop", func(s *StatusFlags) *bool { return &s.PermanentStop }},
	{StatStandingStill, "standing_still", func(s *StatusFlags) *bool { return &s.StandingStill }},
	{StatQuickStopActive, "quick_stop_active", func(s *StatusFlags) *bool { return &s.QuickStopActive }},
	{StatSafeTorqueModeActive, "safe_torque_mode_active", func(s *StatusFlags) *bool { return &s.SafeTorqueModeActive }},
	{StatStandby, "standby", func(s *StatusFlags) *bool { return &s.Standby }},
}

// DecodeStatus extracts the status flags from a raw register value. Bits
// without a defined meaning are ignored.
func DecodeStatus(raw uint32) StatusFlags {
	var s StatusFlags
	for _, b := range statusBits {
		*b.field(&s) = raw&b.mask != 0
	}
	return s
}

// Names returns the names of the set flags in bit order.
func (s StatusFlags) Names() []string {
	var out []string
	for _, b := range statusBits {
		if *b.field(&s) {
			out = append(out, b.name)
		}
	}
	return out
}

func (s StatusFlags) String() string {
	return formatNames(s.Names())
}

// FaultFlags is a decoded snapshot of the drive fault register.
type FaultFlags struct {
	FollowError     bool
	OverCurrent     bool
	Communication   bool
	Encoder         bool
	OverTemp        bool
	UnderVoltage    bool
	OverVoltage     bool
	ProgramOrMem    bool
	Hardware        bool
	OverVelocity    bool
	Init            bool
	Motion          bool
	Range           bool
	PStageForcedOff bool
	HostCommError   bool
	Config          bool
}

// Fault register bits (FLT_*)
const (
	FltFollowError     = 1 << 1
	FltOverCurrent     = 1 << 2
	FltCommunication   = 1 << 3
	FltEncoder         = 1 << 4
	FltOverTemp        = 1 << 5
	FltUnderVoltage    = 1 << 6
	FltOverVoltage     = 1 << 7
	FltProgramOrMem    = 1 << 8
	FltHardware        = 1 << 9
	FltOverVelocity    = 1 << 10
	FltInit            = 1 << 11
	FltMotion          = 1 << 12
	FltRange           = 1 << 13
	FltPStageForcedOff = 1 << 14
	FltHostCommError   = 1 << 15
	FltConfig          = 1 << 16
)

type faultBit struct {
	mask  uint32
	name  string
	field func(*FaultFlags) *bool
}

var faultBits = []faultBit{
	{FltFollowError, "followerror", func(f *FaultFlags) *bool { return &f.FollowError }},
	{FltOverCurrent, "overcurrent", func(f *FaultFlags) *bool { return &f.OverCurrent }},
	{FltCommunication, "communication", func(f *FaultFlags) *bool { return &f.Communication }},
	{FltEncoder, "encoder", func(f *FaultFlags) *bool { return &f.Encoder }},
	{FltOverTemp, "overtemp", func(f *FaultFlags) *bool { return &f.OverTemp }},
	{FltUnderVoltage, "undervoltage", func(f *FaultFlags) *bool { return &f.UnderVoltage }},
	{FltOverVoltage, "overvoltage", func(f *FaultFlags) *bool { return &f.OverVoltage }},
	{FltProgramOrMem, "program_or_mem", func(f *FaultFlags) *bool { return &f.ProgramOrMem }},
	{FltHardware, "hardware", func(f *FaultFlags) *bool { return &f.Hardware }},
	{FltOverVelocity, "overvelocity", func(f *FaultFlags) *bool { return &f.OverVelocity }},
	{FltInit, "init", func(f *FaultFlags) *bool { return &f.Init }},
	{FltMotion, "motion", func(f *FaultFlags) *bool { return &f.Motion }},
	{FltRange, "range", func(f *FaultFlags) *bool { return &f.Range }},
	{FltPStageForcedOff, "pstage_forced_off", func(f *FaultFlags) *bool { return &f.PStageForcedOff }},
	{FltHostCommError, "host_comm_error", func(f *FaultFlags) *bool { return &f.HostCommError }},
	{FltConfig, "config", func(f *FaultFlags) *bool { return &f.Config }},
}

// DecodeFaults extracts the fault flags from a raw register value. Bits
// without a defined meaning are ignored.
func DecodeFaults(raw uint32) FaultFlags {
	var f FaultFlags
	for _, b := range faultBits {
		*b.field(&f) = raw&b.mask != 0
	}
	return f
}

// Any reports whether at least one fault is active.
func (f FaultFlags) Any() bool {
	for _, b := range faultBits {
		if *b.field(&f) {
			return true
		}
	}
	return false
}

// Names returns the names of the active faults in bit order.
func (f FaultFlags) Names() []string {
	var out []string
	for _, b := range faultBits {
		if *b.field(&f) {
			out = append(out, b.name)
		}
	}
	return out
}

func (f FaultFlags) String() string {
	return formatNames(f.Names())
}

func formatNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
