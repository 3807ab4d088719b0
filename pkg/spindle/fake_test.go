// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spindle

import (
	"fmt"
	"sync"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
)

// fakeDrive records every call and returns programmed values.
type fakeDrive struct {
	setpoint float64
	velocity float64
	faults   simplemotion.FaultFlags
	// faultsAfterClear replaces faults when ClearFaults is called.
	faultsAfterClear simplemotion.FaultFlags
	// modeSwitchFaults, when set, replaces faults on SetControlMode.
	modeSwitchFaults simplemotion.FaultFlags
	homing           bool

	fail map[string]error

	calls        []string
	reconnectErr error
	reconnects   int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{fail: map[string]error{}}
}

func (d *fakeDrive) record(name string) error {
	d.calls = append(d.calls, name)
	if err, ok := d.fail[name]; ok {
		return err
	}
	return nil
}

func (d *fakeDrive) count(name string) int {
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (d *fakeDrive) writes() []string {
	var out []string
	for _, c := range d.calls {
		switch c {
		case "SetpointRPS", "VelocityRPS", "Faults", "Status":
			continue
		}
		out = append(out, c)
	}
	return out
}

func (d *fakeDrive) SetpointRPS() (float64, error) {
	return d.setpoint, d.record("SetpointRPS")
}

func (d *fakeDrive) VelocityRPS() (float64, error) {
	return d.velocity, d.record("VelocityRPS")
}

func (d *fakeDrive) Faults() (simplemotion.FaultFlags, error) {
	return d.faults, d.record("Faults")
}

func (d *fakeDrive) Status() (simplemotion.StatusFlags, error) {
	return simplemotion.StatusFlags{Homing: d.homing}, d.record("Status")
}

func (d *fakeDrive) SetControlMode(mode simplemotion.ControlMode) error {
	if err := d.record(fmt.Sprintf("SetControlMode(%s)", mode)); err != nil {
		return err
	}
	if d.modeSwitchFaults.Any() {
		d.faults = d.modeSwitchFaults
	}
	return nil
}

func (d *fakeDrive) SetVelocityRPS(rps float64) error {
	if err := d.record(fmt.Sprintf("SetVelocityRPS(%g)", rps)); err != nil {
		return err
	}
	d.setpoint = rps
	return nil
}

func (d *fakeDrive) ClearFaults() error {
	if err := d.record("ClearFaults"); err != nil {
		return err
	}
	d.faults = d.faultsAfterClear
	return nil
}

func (d *fakeDrive) Home(offsetDegrees float64) error {
	if err := d.record(fmt.Sprintf("Home(%g)", offsetDegrees)); err != nil {
		return err
	}
	d.homing = true
	return nil
}

func (d *fakeDrive) SetHomingComplete() error {
	return d.record("SetHomingComplete")
}

func (d *fakeDrive) Reconnect() error {
	d.calls = append(d.calls, "Reconnect")
	d.reconnects++
	return d.reconnectErr
}

// fakeIO is a HostIO holding one command and the last published outputs.
type fakeIO struct {
	mu         sync.Mutex
	cmd        Command
	published  []Outputs
	driveError bool
}

func (f *fakeIO) Command() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmd
}

func (f *fakeIO) Publish(out Outputs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, out)
	f.driveError = out.DriveError
}

func (f *fakeIO) SetDriveError(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driveError = v
}

func (f *fakeIO) DriveError() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.driveError
}
