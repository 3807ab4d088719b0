// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package spindle sequences a drive between free spinning and index
// synchronised orientation, one control tick at a time.
package spindle

import (
	"fmt"
	"math"
	"strings"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTolerance is the setpoint change in RPS below which a new velocity
// target is not written.
const DefaultTolerance = 0.01

// Drive is the subset of a drive session the state machine uses.
// *simplemotion.Session satisfies it.
type Drive interface {
	SetpointRPS() (float64, error)
	VelocityRPS() (float64, error)
	Faults() (simplemotion.FaultFlags, error)
	Status() (simplemotion.StatusFlags, error)
	SetControlMode(mode simplemotion.ControlMode) error
	SetVelocityRPS(rps float64) error
	ClearFaults() error
	Home(offsetDegrees float64) error
	SetHomingComplete() error
}

// State is the spindle operating state.
type State int

// Spindle states
const (
	Idle State = iota
	SwitchToSpindle
	Spindle
	SwitchToOrient
	Orienting
	Oriented
)

var stateNames = map[State]string{
	Idle:            "idle",
	SwitchToSpindle: "switch-to-spindle",
	Spindle:         "spindle",
	SwitchToOrient:  "switch-to-orient",
	Orienting:       "orienting",
	Oriented:        "oriented",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState accepts the names printed by State.String, with dashes or
// underscores.
func ParseState(name string) (State, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for s, n := range stateNames {
		if n == key {
			return s, nil
		}
	}
	return Idle, errors.Errorf("unknown spindle state %q", name)
}

// Config selects the machine variant.
type Config struct {
	// InitialState must be Idle or SwitchToSpindle.
	InitialState State
	// HoldOriented finishes an orient in Oriented instead of Idle. The
	// machine then stays oriented while orient is enabled.
	HoldOriented bool
	// Tolerance defaults to DefaultTolerance when zero.
	Tolerance float64
}

// Command holds the host inputs for one tick.
type Command struct {
	OrientEnable      bool
	TargetVelocityRPS float64
	TargetAngleDeg    float64
}

// Outputs holds the values reported back to the host after a tick.
type Outputs struct {
	FeedbackRPS float64
	FeedbackRPM float64
	DriveError  bool
	Oriented    bool
	State       State
}

// Machine is the spindle state machine. It never retries a failed drive
// operation; errors are returned to the caller of Tick.
type Machine struct {
	drive     Drive
	state     State
	oriented  bool
	hold      bool
	tolerance float64
	logger    *zap.SugaredLogger

	// faultLatched reports a fault found after the tick's fault read.
	faultLatched bool
}

// NewMachine returns a machine in cfg.InitialState.
func NewMachine(drive Drive, cfg Config, logger *zap.SugaredLogger) (*Machine, error) {
	if cfg.InitialState != Idle && cfg.InitialState != SwitchToSpindle {
		return nil, errors.Errorf("initial state must be %s or %s, got %s", Idle, SwitchToSpindle, cfg.InitialState)
	}
	if cfg.Tolerance < 0 || math.IsNaN(cfg.Tolerance) {
		return nil, errors.Errorf("tolerance must not be negative, got %g", cfg.Tolerance)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Machine{
		drive:     drive,
		state:     cfg.InitialState,
		hold:      cfg.HoldOriented,
		tolerance: cfg.Tolerance,
		logger:    logger,
	}, nil
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Oriented reports the orient complete output.
func (m *Machine) Oriented() bool { return m.oriented }

// Tick reads feedback, evaluates one transition and returns the outputs.
// On error the state is left unchanged and the returned outputs hold what
// was read before the failure.
func (m *Machine) Tick(cmd Command) (Outputs, error) {
	out := Outputs{State: m.state, Oriented: m.oriented}

	setpoint, err := m.drive.SetpointRPS()
	if err != nil {
		return out, err
	}
	velocity, err := m.drive.VelocityRPS()
	if err != nil {
		return out, err
	}
	out.FeedbackRPS = velocity
	out.FeedbackRPM = velocity * 60

	faults, err := m.drive.Faults()
	if err != nil {
		return out, err
	}
	out.DriveError = faults.Any()

	next, err := m.step(cmd, setpoint, velocity)
	out.Oriented = m.oriented
	if m.faultLatched {
		out.DriveError = true
		m.faultLatched = false
	}
	if err != nil {
		return out, err
	}
	if next != m.state {
		m.logger.Debugw("state change", "from", m.state, "to", next)
	}
	m.state = next
	out.State = next
	return out, nil
}

func (m *Machine) step(cmd Command, setpoint, velocity float64) (State, error) {
	switch m.state {
	case Idle:
		if cmd.OrientEnable {
			m.logger.Debug("beginning orient")
			m.oriented = false
			return SwitchToOrient, nil
		}
		if cmd.TargetVelocityRPS != 0 {
			m.logger.Debug("switching to velocity mode")
			m.oriented = false
			return SwitchToSpindle, nil
		}
		return Idle, nil

	case SwitchToSpindle:
		return m.switchToSpindle()

	case Spindle:
		if cmd.OrientEnable {
			m.logger.Debug("switching to orient")
			return SwitchToOrient, nil
		}
		if math.Abs(cmd.TargetVelocityRPS-setpoint) > m.tolerance {
			m.logger.Debugw("change setpoint", "from", setpoint, "to", cmd.TargetVelocityRPS)
			if err := m.drive.SetVelocityRPS(cmd.TargetVelocityRPS); err != nil {
				return m.state, err
			}
		}
		return Spindle, nil

	case SwitchToOrient:
		if err := m.drive.SetVelocityRPS(0); err != nil {
			return m.state, err
		}
		// The mode switch to position must wait for the spindle to stop.
		if velocity != 0 {
			return SwitchToOrient, nil
		}
		m.logger.Debugw("homing", "angle", cmd.TargetAngleDeg)
		if err := m.drive.Home(cmd.TargetAngleDeg); err != nil {
			return m.state, err
		}
		return Orienting, nil

	case Orienting:
		status, err := m.drive.Status()
		if err != nil {
			return m.state, err
		}
		if status.Homing {
			return Orienting, nil
		}
		// Clear the homing request so the next orient can start.
		if err := m.drive.SetHomingComplete(); err != nil {
			return m.state, err
		}
		m.logger.Debug("oriented")
		m.oriented = true
		if m.hold {
			return Oriented, nil
		}
		return Idle, nil

	case Oriented:
		if cmd.OrientEnable {
			return Oriented, nil
		}
		if cmd.TargetVelocityRPS != 0 {
			m.oriented = false
			return SwitchToSpindle, nil
		}
		return Idle, nil
	}
	return m.state, errors.Errorf("invalid spindle state %s", m.state)
}

func (m *Machine) switchToSpindle() (State, error) {
	if err := m.drive.SetControlMode(simplemotion.ModeVelocity); err != nil {
		return m.state, err
	}
	if err := m.drive.SetVelocityRPS(0); err != nil {
		return m.state, err
	}
	// The mode switch itself can raise a fault, so the tick snapshot is stale.
	faults, err := m.drive.Faults()
	if err != nil {
		return m.state, err
	}
	if !faults.Any() {
		return Spindle, nil
	}

	m.logger.Debugw("drive has faults, attempting to reset", "faults", faults.String())
	if err := m.drive.ClearFaults(); err != nil {
		return m.state, err
	}
	faults, err = m.drive.Faults()
	if err != nil {
		return m.state, err
	}
	if faults.Any() {
		// drive-error reports the fault to the host.
		m.logger.Errorw("could not clear faults", "faults", faults.String())
		m.faultLatched = true
		return Idle, nil
	}
	return Spindle, nil
}

// Shutdown commands zero velocity once, whatever the state.
func (m *Machine) Shutdown() error {
	m.logger.Debugw("shutdown", "state", m.state)
	return m.drive.SetVelocityRPS(0)
}
