// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func addr(p Parameter) int16 { return p.Address() }

func connectFake(t *testing.T, bus *fakeBus, opts ...Option) *Session {
	t.Helper()
	s, err := Connect(bus, "/dev/ttyUSB0", 1, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	bus.calls = nil
	bus.reads = nil
	bus.writes = nil
	return s
}

func TestConnect_ReadsScalingInOrder(t *testing.T) {
	bus := newFakeBus()
	s, err := Connect(bus, "/dev/ttyUSB0", 7, WithTimeout(250*time.Millisecond))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	expected := []string{
		"timeout",
		"open /dev/ttyUSB0",
		"status",
		fmt.Sprintf("read %d", addr(PIDFrequency)),
		fmt.Sprintf("read %d", addr(EncoderPpr)),
		fmt.Sprintf("read %d", addr(VelocityLimit)),
		fmt.Sprintf("read %d", addr(InputMul)),
		fmt.Sprintf("read %d", addr(InputDiv)),
	}
	if diff := cmp.Diff(expected, bus.calls); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
	if bus.timeout != 250*time.Millisecond {
		t.Errorf("timeout not applied: %v", bus.timeout)
	}

	k := s.Scaling()
	want := ScalingConstants{EncoderCounts: 4000, PIDFrequency: 2500, VelocityLimit: 800, InputMul: 1, InputDiv: 1}
	if diff := cmp.Diff(want, k); diff != "" {
		t.Errorf("scaling mismatch (-want +got):\n%s", diff)
	}
	if s.Address() != 7 || s.Device() != "/dev/ttyUSB0" || !s.Connected() {
		t.Errorf("unexpected session identity: %d %s %v", s.Address(), s.Device(), s.Connected())
	}
}

func TestConnect_NoTimeoutWhenUnset(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()
	if bus.timeout != 0 {
		t.Errorf("SetTimeout should not be called without WithTimeout")
	}
}

func TestConnect_OpenFailures(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		bus := newFakeBus()
		bus.openErr = errors.New("no such file")
		_, err := Connect(bus, "/dev/missing", 1)
		var connErr *ConnectError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected ConnectError, got %v", err)
		}
		if connErr.Device != "/dev/missing" || connErr.Code != StatusErrNoDevice {
			t.Errorf("unexpected ConnectError: %+v", connErr)
		}
	})

	t.Run("negative handle", func(t *testing.T) {
		bus := newFakeBus()
		bus.openHandle = -3
		_, err := Connect(bus, "/dev/ttyUSB0", 1)
		var connErr *ConnectError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected ConnectError, got %v", err)
		}
		if connErr.Code != StatusUnknown {
			t.Errorf("expected unknown code, got %s", connErr.Code)
		}
	})

	t.Run("zero address", func(t *testing.T) {
		if _, err := Connect(newFakeBus(), "/dev/ttyUSB0", 0); err == nil {
			t.Error("expected error for address 0")
		}
	})
}

func TestConnect_ReadFailureClosesHandle(t *testing.T) {
	for _, p := range []Parameter{PIDFrequency, EncoderPpr, VelocityLimit, InputMul, InputDiv} {
		t.Run(p.String(), func(t *testing.T) {
			bus := newFakeBus()
			bus.readFail[addr(p)] = StatusErrParameter

			_, err := Connect(bus, "/dev/ttyUSB0", 1)
			var readErr *ReadParameterError
			if !errors.As(err, &readErr) {
				t.Fatalf("expected ReadParameterError, got %v", err)
			}
			if readErr.Parameter != p || readErr.Code != StatusErrParameter {
				t.Errorf("unexpected error: %+v", readErr)
			}
			if last := bus.calls[len(bus.calls)-1]; last != "close 0" {
				t.Errorf("expected handle closed last, got %q", last)
			}
		})
	}
}

func TestConnect_NonPositiveScaling(t *testing.T) {
	bus := newFakeBus()
	bus.regs[addr(InputDiv)] = 0

	_, err := Connect(bus, "/dev/ttyUSB0", 1)
	var scalingErr *ScalingError
	if !errors.As(err, &scalingErr) {
		t.Fatalf("expected ScalingError, got %v", err)
	}
	if scalingErr.Parameter != InputDiv {
		t.Errorf("expected input_div, got %s", scalingErr.Parameter)
	}
	if last := bus.calls[len(bus.calls)-1]; last != "close 0" {
		t.Errorf("expected handle closed, got %q", last)
	}
}

func TestConnect_RegisterMapOverride(t *testing.T) {
	m, err := NewRegisterMap(map[string]int{"pid_frequency": 4321})
	if err != nil {
		t.Fatal(err)
	}
	bus := newFakeBus()
	bus.regs[4321] = 5000

	s, err := Connect(bus, "/dev/ttyUSB0", 1, WithRegisterMap(m))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if s.Scaling().PIDFrequency != 5000 {
		t.Errorf("override register not used: %s", s.Scaling())
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	s.Close()
	s.Close()

	if diff := cmp.Diff([]string{"close 0"}, bus.calls); diff != "" {
		t.Errorf("close calls mismatch (-want +got):\n%s", diff)
	}
	if s.Connected() {
		t.Error("session should be disconnected")
	}
}

func TestSession_CloseFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := newFakeBus()
	bus.closeCode = StatusErrBus

	s := connectFake(t, bus, WithLogger(zap.New(core).Sugar()))
	s.Close()

	entries := logs.FilterMessage("failed to close bus handle").All()
	if len(entries) != 1 {
		t.Fatalf("expected one close failure log, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("expected error level, got %s", entries[0].Level)
	}
}

func TestSession_NotConnected(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	s.Close()
	bus.calls = nil

	checks := map[string]error{}
	checks["SetParameter"] = s.SetParameter(Faults, 0)
	_, checks["ReadParameter"] = s.ReadParameter(Status)
	checks["ClearFaults"] = s.ClearFaults()
	_, checks["Status"] = s.Status()
	_, checks["Faults"] = s.Faults()
	_, checks["BusStatus"] = s.BusStatus()
	checks["SetVelocityRPS"] = s.SetVelocityRPS(1)
	_, checks["VelocityRPS"] = s.VelocityRPS()
	checks["Home"] = s.Home(0)

	for name, err := range checks {
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", name, err)
		}
	}
	if len(bus.calls) != 0 {
		t.Errorf("bus used while disconnected: %v", bus.calls)
	}
}

func TestSession_Reconnect(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus, WithTimeout(time.Second))
	defer s.Close()

	bus.regs[addr(ActualVelocity)] = 16
	s.VelocityRPS()

	if err := s.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	expected := []string{
		fmt.Sprintf("read %d", addr(ActualVelocity)),
		"close 0",
		"timeout",
		"open /dev/ttyUSB0",
	}
	if diff := cmp.Diff(expected, bus.calls); diff != "" {
		t.Errorf("reconnect sequence mismatch (-want +got):\n%s", diff)
	}

	// Filter is cleared: 16 counts/period = 10 RPS, one sample of ten.
	v, err := s.VelocityRPS()
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("expected filter reset (1 RPS), got %g", v)
	}
}

func TestSession_ReconnectFailure(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)

	bus.openErr = errors.New("gone")
	var connErr *ConnectError
	if err := s.Reconnect(); !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if s.Connected() {
		t.Error("session should be disconnected after failed reconnect")
	}
	if err := s.SetVelocityRPS(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	bus.openErr = nil
	if err := s.Reconnect(); err != nil {
		t.Fatalf("second Reconnect: %v", err)
	}
	if !s.Connected() {
		t.Error("session should be connected")
	}
	s.Close()
}

func TestSession_SetParameterError(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	bus.writeFail[addr(ControlModeParam)] = StatusErrCommunication
	err := s.SetControlMode(ModeVelocity)
	var setErr *SetParameterError
	if !errors.As(err, &setErr) {
		t.Fatalf("expected SetParameterError, got %v", err)
	}
	expected := SetParameterError{Parameter: ControlModeParam, Value: int32(ModeVelocity), Code: StatusErrCommunication}
	if *setErr != expected {
		t.Errorf("got %+v, expected %+v", *setErr, expected)
	}
}

func TestSession_ClearFaults(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		bus := newFakeBus()
		s := connectFake(t, bus)
		defer s.Close()

		if err := s.ClearFaults(); err != nil {
			t.Fatal(err)
		}
		expected := []string{fmt.Sprintf("write %d=0", addr(Faults)), "reset"}
		if diff := cmp.Diff(expected, bus.calls); diff != "" {
			t.Errorf("sequence mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("write failure skips reset", func(t *testing.T) {
		bus := newFakeBus()
		s := connectFake(t, bus)
		defer s.Close()

		bus.writeFail[addr(Faults)] = StatusErrBus
		var setErr *SetParameterError
		if err := s.ClearFaults(); !errors.As(err, &setErr) {
			t.Fatalf("expected SetParameterError, got %v", err)
		}
		for _, c := range bus.calls {
			if c == "reset" {
				t.Error("reset attempted after failed write")
			}
		}
	})

	t.Run("reset failure", func(t *testing.T) {
		bus := newFakeBus()
		s := connectFake(t, bus)
		defer s.Close()

		bus.resetCode = StatusErrCommunication
		var resetErr *ResetStatusError
		if err := s.ClearFaults(); !errors.As(err, &resetErr) {
			t.Fatalf("expected ResetStatusError, got %v", err)
		}
		if resetErr.Code != StatusErrCommunication {
			t.Errorf("unexpected code %s", resetErr.Code)
		}
	})
}

func TestSession_BusStatus(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	raw, err := s.BusStatus()
	if err != nil || raw != int64(StatusOK) {
		t.Fatalf("expected clean status, got %d %v", raw, err)
	}

	bus.acc.Add(StatusErrLength)
	raw, err = s.BusStatus()
	var statusErr *GetStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected GetStatusError, got %v", err)
	}
	if statusErr.Code != StatusErrLength || raw != int64(StatusOK|StatusErrLength) {
		t.Errorf("unexpected status error %+v raw %d", statusErr, raw)
	}
}

func TestSession_StatusAndFaults(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	bus.regs[addr(Status)] = StatRun | StatHoming
	bus.regs[addr(Faults)] = FltOverTemp

	st, err := s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Run || !st.Homing || st.Enabled {
		t.Errorf("unexpected status %s", st)
	}

	online, err := s.IsOnline()
	if err != nil || !online {
		t.Errorf("expected online, got %v %v", online, err)
	}

	f, err := s.Faults()
	if err != nil {
		t.Fatal(err)
	}
	if !f.OverTemp || !f.Any() {
		t.Errorf("unexpected faults %s", f)
	}
}

func TestSession_Home(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	if err := s.Home(90); err != nil {
		t.Fatal(err)
	}
	expected := []write{
		{addr(ControlModeParam), int32(ModePosition)},
		{addr(TrajPlannerHomingOffset), 1000},
		{addr(HomingControl), 1},
	}
	if diff := cmp.Diff(expected, bus.writes, cmp.AllowUnexported(write{})); diff != "" {
		t.Errorf("home writes mismatch (-want +got):\n%s", diff)
	}

	bus.writes = nil
	if err := s.SetHomingComplete(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]write{{addr(HomingControl), 0}}, bus.writes, cmp.AllowUnexported(write{})); diff != "" {
		t.Errorf("homing complete mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_HomeStopsAtFirstFailure(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	bus.writeFail[addr(TrajPlannerHomingOffset)] = StatusErrParameter
	var setErr *SetParameterError
	if err := s.Home(45); !errors.As(err, &setErr) || setErr.Parameter != TrajPlannerHomingOffset {
		t.Fatalf("expected homing offset failure, got %v", err)
	}
	if len(bus.writes) != 2 {
		t.Errorf("expected mode and offset writes only, got %v", bus.writes)
	}
	if bus.regs[addr(ControlModeParam)] != int32(ModePosition) {
		t.Error("control mode write should have been applied")
	}
}

func TestSession_HomeConversionFailure(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	var convErr *ValueConversionError
	if err := s.Home(1e12); !errors.As(err, &convErr) {
		t.Fatalf("expected ValueConversionError, got %v", err)
	}
	if len(bus.writes) != 0 {
		t.Errorf("no writes expected, got %v", bus.writes)
	}
}

func TestSession_Velocity(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus)
	defer s.Close()

	// 4000 counts, 2500 Hz, div 1: 10 RPS = 16 setpoint units.
	if err := s.SetVelocityRPS(10); err != nil {
		t.Fatal(err)
	}
	if got := bus.regs[addr(AbsoluteSetpoint)]; got != 16 {
		t.Errorf("expected setpoint 16, got %d", got)
	}

	rps, err := s.SetpointRPS()
	if err != nil || rps != 10 {
		t.Errorf("SetpointRPS = %g, %v", rps, err)
	}

	bus.regs[addr(ActualVelocity)] = 16
	var v float64
	for i := 0; i < DefaultFilterDepth; i++ {
		if v, err = s.VelocityRPS(); err != nil {
			t.Fatal(err)
		}
		if i == 0 && v != 1 {
			t.Errorf("first filtered sample should be 1, got %g", v)
		}
	}
	if v != 10 {
		t.Errorf("expected settled 10 RPS, got %g", v)
	}

	var convErr *ValueConversionError
	if err := s.SetVelocityRPS(1e12); !errors.As(err, &convErr) {
		t.Errorf("expected ValueConversionError, got %v", err)
	}
}

func TestSession_FilterDepth(t *testing.T) {
	bus := newFakeBus()
	s := connectFake(t, bus, WithFilterDepth(1))
	defer s.Close()

	bus.regs[addr(ActualVelocity)] = 16
	if v, _ := s.VelocityRPS(); v != 10 {
		t.Errorf("depth 1 filter should pass through, got %g", v)
	}

	if _, err := Connect(newFakeBus(), "x", 1, WithFilterDepth(0)); err == nil {
		t.Error("expected error for zero filter depth")
	}
}
