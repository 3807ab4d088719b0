// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultFilterDepth is the velocity feedback filter length.
const DefaultFilterDepth = 10

// Option configures Connect.
type Option func(*options)

type options struct {
	timeout     time.Duration
	registers   RegisterMap
	filterDepth int
	logger      *zap.SugaredLogger
}

// WithTimeout sets the per call bus timeout before the link is opened.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRegisterMap replaces the firmware register table.
func WithRegisterMap(m RegisterMap) Option {
	return func(o *options) { o.registers = m }
}

// WithFilterDepth sets the velocity feedback filter length.
func WithFilterDepth(n int) Option {
	return func(o *options) { o.filterDepth = n }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// Session is a connection to one drive. It is not safe for concurrent use.
// Close must be called on every exit path once Connect has succeeded.
type Session struct {
	bus       Bus
	device    string
	address   uint8
	handle    Handle
	open      bool
	timeout   time.Duration
	registers RegisterMap
	scaling   ScalingConstants
	velocity  *MovingAverage
	logger    *zap.SugaredLogger
}

// Connect opens device on bus and reads the scaling constants of the drive
// at address. The handle is closed again if any step fails.
func Connect(bus Bus, device string, address uint8, opts ...Option) (*Session, error) {
	o := options{
		registers:   DefaultRegisterMap(),
		filterDepth: DefaultFilterDepth,
		logger:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if address == 0 {
		return nil, errors.New("drive address must be 1-255")
	}
	if o.filterDepth < 1 {
		return nil, errors.Errorf("filter depth must be at least 1, got %d", o.filterDepth)
	}

	s := &Session{
		bus:       bus,
		device:    device,
		address:   address,
		timeout:   o.timeout,
		registers: o.registers,
		velocity:  NewMovingAverage(o.filterDepth),
		logger:    o.logger.With("device", device, "address", address),
	}

	if err := s.openHandle(); err != nil {
		return nil, err
	}

	raw := s.bus.CumulativeStatus(s.handle)
	s.logger.Debugw("bus status", "cumulative", FormatCumulative(raw))

	k, err := s.readScaling()
	if err != nil {
		s.closeHandle()
		return nil, err
	}
	s.scaling = k
	s.logger.Infow("connected", "scaling", k.String())
	return s, nil
}

func (s *Session) openHandle() error {
	if s.timeout > 0 {
		s.bus.SetTimeout(s.timeout)
	}
	s.logger.Debug("open bus")
	h, err := s.bus.Open(s.device)
	if err != nil {
		return &ConnectError{Device: s.device, Code: StatusErrNoDevice, Err: err}
	}
	if h < 0 {
		return &ConnectError{Device: s.device, Code: StatusFromCode(int64(h))}
	}
	s.handle = h
	s.open = true
	s.logger.Debugw("bus open", "handle", int64(h))
	return nil
}

func (s *Session) closeHandle() {
	if !s.open {
		return
	}
	s.open = false
	if code := s.bus.Close(s.handle); !code.IsOK() {
		s.logger.Errorw("failed to close bus handle", "handle", int64(s.handle), "code", code)
		return
	}
	s.logger.Debugw("bus closed", "handle", int64(s.handle))
}

func (s *Session) readScaling() (ScalingConstants, error) {
	var k ScalingConstants
	reads := []struct {
		p     Parameter
		dst   *float64
		scale float64
	}{
		{PIDFrequency, &k.PIDFrequency, 1},
		{EncoderPpr, &k.EncoderCounts, 4},
		{VelocityLimit, &k.VelocityLimit, 1},
		{InputMul, &k.InputMul, 1},
		{InputDiv, &k.InputDiv, 1},
	}
	for _, r := range reads {
		v, err := s.ReadParameter(r.p)
		if err != nil {
			return ScalingConstants{}, err
		}
		*r.dst = float64(v) * r.scale
	}
	if err := k.Validate(); err != nil {
		return ScalingConstants{}, err
	}
	return k, nil
}

// Reconnect closes the current handle and opens the stored device again.
// Scaling constants are kept. The velocity filter is cleared.
func (s *Session) Reconnect() error {
	s.closeHandle()
	if err := s.openHandle(); err != nil {
		return err
	}
	s.velocity.Reset()
	s.logger.Info("reconnected")
	return nil
}

// Close releases the bus handle. Close failures are logged. Calling Close
// more than once is a no-op.
func (s *Session) Close() {
	s.logger.Debug("close session")
	s.closeHandle()
}

// Connected reports whether the bus handle is open.
func (s *Session) Connected() bool { return s.open }

// Device returns the device identifier the session was opened with.
func (s *Session) Device() string { return s.device }

// Address returns the drive node address.
func (s *Session) Address() uint8 { return s.address }

// Scaling returns the constants read at connect time.
func (s *Session) Scaling() ScalingConstants { return s.scaling }

// SetParameter writes one register.
func (s *Session) SetParameter(p Parameter, value int32) error {
	if !s.open {
		return ErrNotConnected
	}
	code := s.bus.WriteParameter(s.handle, s.address, s.registers.Address(p), value)
	s.logger.Debugw("set parameter", "parameter", p, "value", value, "result", code)
	if !code.IsOK() {
		return &SetParameterError{Parameter: p, Value: value, Code: code}
	}
	return nil
}

// ReadParameter reads one register.
func (s *Session) ReadParameter(p Parameter) (int32, error) {
	if !s.open {
		return 0, ErrNotConnected
	}
	code, v := s.bus.ReadParameter(s.handle, s.address, s.registers.Address(p))
	s.logger.Debugw("read parameter", "parameter", p, "value", v, "result", code)
	if !code.IsOK() {
		return 0, &ReadParameterError{Parameter: p, Code: code}
	}
	return v, nil
}

// ClearFaults clears the fault register, then resets the cumulative bus
// status. Check the drive status before doing anything else.
func (s *Session) ClearFaults() error {
	if err := s.SetParameter(Faults, 0); err != nil {
		return err
	}
	if code := s.bus.ResetCumulativeStatus(s.handle); !code.IsOK() {
		return &ResetStatusError{Code: code}
	}
	return nil
}

// BusStatus returns the cumulative bus status since the last reset. Error
// bits in the value produce a *GetStatusError alongside it.
func (s *Session) BusStatus() (int64, error) {
	if !s.open {
		return 0, ErrNotConnected
	}
	raw := s.bus.CumulativeStatus(s.handle)
	if errs := CumulativeErrors(raw); len(errs) > 0 {
		return raw, &GetStatusError{Code: errs[0], Raw: raw}
	}
	return raw, nil
}

// Status reads and decodes the status register.
func (s *Session) Status() (StatusFlags, error) {
	raw, err := s.ReadParameter(Status)
	if err != nil {
		return StatusFlags{}, err
	}
	s.logger.Debugf("raw status %d %032b", raw, uint32(raw))
	return DecodeStatus(uint32(raw)), nil
}

// Faults reads and decodes the fault register.
func (s *Session) Faults() (FaultFlags, error) {
	raw, err := s.ReadParameter(Faults)
	if err != nil {
		return FaultFlags{}, err
	}
	return DecodeFaults(uint32(raw)), nil
}

// IsOnline reports whether the drive control loop is running.
func (s *Session) IsOnline() (bool, error) {
	st, err := s.Status()
	if err != nil {
		return false, err
	}
	return st.Run, nil
}

// SetControlMode selects the drive control loop.
func (s *Session) SetControlMode(mode ControlMode) error {
	return s.SetParameter(ControlModeParam, int32(mode))
}

// Home switches to position mode and starts the index search. The shaft
// stops offsetDegrees past the index, homing in the positive direction.
// A failed step leaves the earlier steps applied.
func (s *Session) Home(offsetDegrees float64) error {
	counts, err := RegisterValue(s.scaling.HomeOffsetCounts(offsetDegrees))
	if err != nil {
		return err
	}
	if err := s.SetControlMode(ModePosition); err != nil {
		return err
	}
	if err := s.SetParameter(TrajPlannerHomingOffset, counts); err != nil {
		return err
	}
	return s.SetParameter(HomingControl, 1)
}

// SetHomingComplete clears the homing request so the drive can home again.
func (s *Session) SetHomingComplete() error {
	return s.SetParameter(HomingControl, 0)
}

// SetAbsoluteSetpoint writes a raw setpoint.
func (s *Session) SetAbsoluteSetpoint(raw int32) error {
	return s.SetParameter(AbsoluteSetpoint, raw)
}

// AbsoluteSetpoint reads the raw setpoint.
func (s *Session) AbsoluteSetpoint() (int32, error) {
	return s.ReadParameter(AbsoluteSetpoint)
}

// SetVelocityRPS commands a velocity in revolutions per second.
func (s *Session) SetVelocityRPS(rps float64) error {
	v, err := RegisterValue(s.scaling.RPSToSetpoint(rps))
	if err != nil {
		return err
	}
	return s.SetAbsoluteSetpoint(v)
}

// SetpointRPS returns the commanded velocity in revolutions per second.
func (s *Session) SetpointRPS() (float64, error) {
	raw, err := s.AbsoluteSetpoint()
	if err != nil {
		return 0, err
	}
	return s.scaling.SetpointToRPS(raw), nil
}

// VelocityRPS returns the filtered velocity feedback in revolutions per
// second.
func (s *Session) VelocityRPS() (float64, error) {
	raw, err := s.ReadParameter(ActualVelocity)
	if err != nil {
		return 0, err
	}
	return s.velocity.Feed(s.scaling.FeedbackToRPS(raw)), nil
}
