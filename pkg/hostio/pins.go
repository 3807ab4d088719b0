// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostio holds the spindle loop's host signals. Inputs are written by
// an operator (HTTP panel or TUI) and read each tick; outputs are written by
// the loop. Every pin is an atomic slot, so no locking is needed.
package hostio

import (
	"sort"
	"time"

	"github.com/Thermoquad/argonctl/pkg/spindle"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Pin names
const (
	PinOrientEnable = "orient-enable"
	PinOrientAngle  = "orient-angle"
	PinSpeedRPS     = "spindle-speed-rps"
	PinOriented     = "is-oriented"
	PinFeedbackRPS  = "spindle-fb-rps"
	PinFeedbackRPM  = "spindle-fb-rpm"
	PinDriveError   = "drive-error"
	PinState        = "state"
)

var (
	// ErrUnknownPin is returned for names that are not pins.
	ErrUnknownPin = errors.New("unknown pin")
	// ErrOutputPin is returned when writing a pin the loop owns.
	ErrOutputPin = errors.New("pin is an output")
)

// Pins implements spindle.HostIO.
type Pins struct {
	orientEnable atomic.Bool
	orientAngle  atomic.Float64
	speedRPS     atomic.Float64

	oriented    atomic.Bool
	feedbackRPS atomic.Float64
	feedbackRPM atomic.Float64
	driveError  atomic.Bool
	state       atomic.String
	published   atomic.Time
}

var _ spindle.HostIO = (*Pins)(nil)

// NewPins returns pins with every input at zero.
func NewPins() *Pins {
	p := &Pins{}
	p.state.Store(spindle.Idle.String())
	return p
}

// Command returns the current inputs.
func (p *Pins) Command() spindle.Command {
	return spindle.Command{
		OrientEnable:      p.orientEnable.Load(),
		TargetAngleDeg:    p.orientAngle.Load(),
		TargetVelocityRPS: p.speedRPS.Load(),
	}
}

// Publish stores the outputs of a tick.
func (p *Pins) Publish(out spindle.Outputs) {
	p.oriented.Store(out.Oriented)
	p.feedbackRPS.Store(out.FeedbackRPS)
	p.feedbackRPM.Store(out.FeedbackRPM)
	p.driveError.Store(out.DriveError)
	p.state.Store(out.State.String())
	p.published.Store(time.Now())
}

// SetDriveError sets drive-error without touching the other outputs.
func (p *Pins) SetDriveError(v bool) { p.driveError.Store(v) }

// SetOrientEnable sets the orient-enable input.
func (p *Pins) SetOrientEnable(v bool) { p.orientEnable.Store(v) }

// SetOrientAngle sets the orient-angle input in degrees.
func (p *Pins) SetOrientAngle(deg float64) { p.orientAngle.Store(deg) }

// SetSpeedRPS sets the spindle-speed-rps input.
func (p *Pins) SetSpeedRPS(rps float64) { p.speedRPS.Store(rps) }

// LastPublish returns when outputs were last written, zero if never.
func (p *Pins) LastPublish() time.Time { return p.published.Load() }

type pin struct {
	input bool
	get   func(p *Pins) interface{}
	set   func(p *Pins, v interface{}) error
}

var pins = map[string]pin{
	PinOrientEnable: {input: true, get: func(p *Pins) interface{} { return p.orientEnable.Load() }, set: setBool(func(p *Pins) *atomic.Bool { return &p.orientEnable })},
	PinOrientAngle:  {input: true, get: func(p *Pins) interface{} { return p.orientAngle.Load() }, set: setFloat(func(p *Pins) *atomic.Float64 { return &p.orientAngle })},
	PinSpeedRPS:     {input: true, get: func(p *Pins) interface{} { return p.speedRPS.Load() }, set: setFloat(func(p *Pins) *atomic.Float64 { return &p.speedRPS })},
	PinOriented:     {get: func(p *Pins) interface{} { return p.oriented.Load() }},
	PinFeedbackRPS:  {get: func(p *Pins) interface{} { return p.feedbackRPS.Load() }},
	PinFeedbackRPM:  {get: func(p *Pins) interface{} { return p.feedbackRPM.Load() }},
	PinDriveError:   {get: func(p *Pins) interface{} { return p.driveError.Load() }},
	PinState:        {get: func(p *Pins) interface{} { return p.state.Load() }},
}

func setBool(slot func(p *Pins) *atomic.Bool) func(p *Pins, v interface{}) error {
	return func(p *Pins, v interface{}) error {
		b, ok := v.(bool)
		if !ok {
			return errors.Errorf("expected bool, got %T", v)
		}
		slot(p).Store(b)
		return nil
	}
}

func setFloat(slot func(p *Pins) *atomic.Float64) func(p *Pins, v interface{}) error {
	return func(p *Pins, v interface{}) error {
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int:
			f = float64(n)
		default:
			return errors.Errorf("expected number, got %T", v)
		}
		slot(p).Store(f)
		return nil
	}
}

// Names returns every pin name in order.
func Names() []string {
	out := make([]string, 0, len(pins))
	for name := range pins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsInput reports whether name is an operator input.
func IsInput(name string) bool { return pins[name].input }

// Get returns the value of a pin.
func (p *Pins) Get(name string) (interface{}, error) {
	pn, ok := pins[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownPin, name)
	}
	return pn.get(p), nil
}

// Set writes an input pin. Bool pins take a bool, the others a number.
func (p *Pins) Set(name string, v interface{}) error {
	pn, ok := pins[name]
	if !ok {
		return errors.Wrap(ErrUnknownPin, name)
	}
	if !pn.input {
		return errors.Wrap(ErrOutputPin, name)
	}
	return errors.Wrap(pn.set(p, v), name)
}

// Snapshot returns every pin value keyed by name.
func (p *Pins) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(pins))
	for name, pn := range pins {
		out[name] = pn.get(p)
	}
	return out
}
