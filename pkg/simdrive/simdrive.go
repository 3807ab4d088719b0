// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simdrive is an in-memory simplemotion.Bus with drives that behave
// enough like the firmware to exercise the spindle loop without hardware.
package simdrive

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config describes the simulated drives.
type Config struct {
	Registers simplemotion.RegisterMap
	// Nodes lists the drive addresses that answer on the bus.
	Nodes []uint8

	PIDFrequency  int32
	EncoderPpr    int32
	VelocityLimit int32
	InputMul      int32
	InputDiv      int32

	// RampStep is how far the velocity feedback moves per feedback read.
	RampStep int32
	// HomingReads is how many status reads a homing run stays active.
	HomingReads int
}

// DefaultConfig returns a single drive at address 1.
func DefaultConfig() Config {
	return Config{
		Registers:     simplemotion.DefaultRegisterMap(),
		Nodes:         []uint8{1},
		PIDFrequency:  2500,
		EncoderPpr:    1000,
		VelocityLimit: 800,
		InputMul:      1,
		InputDiv:      1,
		RampStep:      4,
		HomingReads:   3,
	}
}

// Validate checks the drive constants.
func (c Config) Validate() error {
	var errs error
	if len(c.Nodes) == 0 {
		errs = multierr.Append(errs, errors.New("no drive nodes"))
	}
	for _, n := range c.Nodes {
		if n == 0 {
			errs = multierr.Append(errs, errors.New("node address 0 is reserved"))
		}
	}
	if c.RampStep < 1 {
		errs = multierr.Append(errs, errors.Errorf("ramp step must be positive, got %d", c.RampStep))
	}
	if c.HomingReads < 0 {
		errs = multierr.Append(errs, errors.Errorf("homing reads must not be negative, got %d", c.HomingReads))
	}
	return errs
}

// node is one drive's register file.
type node struct {
	regs     map[int16]int32
	velocity int32
	homing   int
}

type failure struct {
	node  uint8
	param int16
	write bool
}

// Bus is a simulated bus.
type Bus struct {
	cfg    Config
	logger *zap.SugaredLogger
	status simplemotion.StatusAccumulator

	mu       sync.Mutex
	timeout  time.Duration
	open     bool
	handle   simplemotion.Handle
	next     simplemotion.Handle
	nodes    map[uint8]*node
	openErr  error
	closeErr simplemotion.StatusCode
	failures map[failure]simplemotion.StatusCode
	log      []string
}

var _ simplemotion.Bus = (*Bus)(nil)

// New returns a bus with every node in cfg powered up and fault free.
func New(cfg Config, logger *zap.SugaredLogger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bus{
		cfg:      cfg,
		logger:   logger,
		handle:   simplemotion.InvalidHandle,
		nodes:    make(map[uint8]*node, len(cfg.Nodes)),
		failures: map[failure]simplemotion.StatusCode{},
	}
	for _, n := range cfg.Nodes {
		b.nodes[n] = b.newNode()
	}
	return b, nil
}

func (b *Bus) newNode() *node {
	regs := make(map[int16]int32, len(simplemotion.Parameters()))
	for _, p := range simplemotion.Parameters() {
		regs[b.cfg.Registers.Address(p)] = 0
	}
	set := func(p simplemotion.Parameter, v int32) { regs[b.cfg.Registers.Address(p)] = v }
	set(simplemotion.PIDFrequency, b.cfg.PIDFrequency)
	set(simplemotion.EncoderPpr, b.cfg.EncoderPpr)
	set(simplemotion.VelocityLimit, b.cfg.VelocityLimit)
	set(simplemotion.InputMul, b.cfg.InputMul)
	set(simplemotion.InputDiv, b.cfg.InputDiv)
	return &node{regs: regs}
}

func (b *Bus) addr(p simplemotion.Parameter) int16 { return b.cfg.Registers.Address(p) }

// SetTimeout records the timeout. The simulation never blocks.
func (b *Bus) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

// Timeout returns the last timeout set.
func (b *Bus) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// Open opens the bus. Any device name is accepted.
func (b *Bus) Open(device string) (simplemotion.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return simplemotion.InvalidHandle, b.openErr
	}
	if b.open {
		return simplemotion.InvalidHandle, errors.New("simulated bus already open")
	}
	b.open = true
	b.next++
	b.handle = b.next
	b.record("open %s", device)
	return b.handle, nil
}

// Close closes the bus.
func (b *Bus) Close(h simplemotion.Handle) simplemotion.StatusCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || h != b.handle {
		return simplemotion.StatusErrBus
	}
	b.open = false
	b.handle = simplemotion.InvalidHandle
	b.record("close")
	if b.closeErr != simplemotion.StatusNone {
		return b.closeErr
	}
	return simplemotion.StatusOK
}

// ReadParameter reads a register.
func (b *Bus) ReadParameter(h simplemotion.Handle, addr uint8, param int16) (simplemotion.StatusCode, int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, value := b.read(h, addr, param)
	b.status.Add(status)
	return status, value
}

func (b *Bus) read(h simplemotion.Handle, addr uint8, param int16) (simplemotion.StatusCode, int32) {
	n, status := b.lookup(h, addr, param, false)
	if n == nil {
		return status, 0
	}

	switch param {
	case b.addr(simplemotion.ActualVelocity):
		b.ramp(n)
		return simplemotion.StatusOK, n.velocity
	case b.addr(simplemotion.Status):
		return simplemotion.StatusOK, int32(b.statusBits(n))
	}
	return simplemotion.StatusOK, n.regs[param]
}

// ramp moves the feedback one step toward the commanded velocity.
func (b *Bus) ramp(n *node) {
	var target int32
	if n.regs[b.addr(simplemotion.ControlModeParam)] == int32(simplemotion.ModeVelocity) &&
		n.regs[b.addr(simplemotion.Faults)] == 0 {
		if div := n.regs[b.addr(simplemotion.InputDiv)]; div != 0 {
			target = n.regs[b.addr(simplemotion.AbsoluteSetpoint)] / div
		}
	}
	switch d := target - n.velocity; {
	case d > b.cfg.RampStep:
		n.velocity += b.cfg.RampStep
	case d < -b.cfg.RampStep:
		n.velocity -= b.cfg.RampStep
	default:
		n.velocity = target
	}
}

func (b *Bus) statusBits(n *node) uint32 {
	bits := uint32(simplemotion.StatInitialized | simplemotion.StatVoltagesOK)
	if n.regs[b.addr(simplemotion.Faults)] != 0 {
		return bits | simplemotion.StatFaultStop
	}
	bits |= simplemotion.StatEnabled | simplemotion.StatServoReady | simplemotion.StatRun
	if n.velocity == 0 {
		bits |= simplemotion.StatStandingStill
	}
	if n.homing > 0 {
		n.homing--
		return bits | simplemotion.StatHoming
	}
	mode := n.regs[b.addr(simplemotion.ControlModeParam)]
	if mode != int32(simplemotion.ModeVelocity) || n.velocity == n.regs[b.addr(simplemotion.AbsoluteSetpoint)]/nonZero(n.regs[b.addr(simplemotion.InputDiv)]) {
		bits |= simplemotion.StatTargetReached
	}
	return bits
}

func nonZero(v int32) int32 {
	if v == 0 {
		return 1
	}
	return v
}

// WriteParameter writes a register.
func (b *Bus) WriteParameter(h simplemotion.Handle, addr uint8, param int16, value int32) simplemotion.StatusCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := b.write(h, addr, param, value)
	b.status.Add(status)
	return status
}

func (b *Bus) write(h simplemotion.Handle, addr uint8, param int16, value int32) simplemotion.StatusCode {
	n, status := b.lookup(h, addr, param, true)
	if n == nil {
		return status
	}

	switch param {
	case b.addr(simplemotion.Status), b.addr(simplemotion.ActualVelocity):
		return simplemotion.StatusErrParameter
	case b.addr(simplemotion.HomingControl):
		if value == 1 && n.regs[b.addr(simplemotion.ControlModeParam)] == int32(simplemotion.ModePosition) {
			n.homing = b.cfg.HomingReads
		}
	case b.addr(simplemotion.ControlModeParam):
		if value < int32(simplemotion.ModeNone) || value > int32(simplemotion.ModeTorque) {
			return simplemotion.StatusErrParameter
		}
	}
	n.regs[param] = value
	b.record("write %d:%d=%d", addr, param, value)
	return simplemotion.StatusOK
}

func (b *Bus) lookup(h simplemotion.Handle, addr uint8, param int16, write bool) (*node, simplemotion.StatusCode) {
	if !b.open || h != b.handle {
		return nil, simplemotion.StatusErrBus
	}
	if code, ok := b.failures[failure{node: addr, param: param, write: write}]; ok {
		return nil, code
	}
	n, ok := b.nodes[addr]
	if !ok {
		return nil, simplemotion.StatusErrCommunication
	}
	if _, ok := n.regs[param]; !ok {
		return nil, simplemotion.StatusErrParameter
	}
	return n, simplemotion.StatusOK
}

// CumulativeStatus returns every status latched since the last reset.
func (b *Bus) CumulativeStatus(h simplemotion.Handle) int64 {
	return b.status.Value()
}

// ResetCumulativeStatus clears the latched status.
func (b *Bus) ResetCumulativeStatus(h simplemotion.Handle) simplemotion.StatusCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || h != b.handle {
		return simplemotion.StatusErrBus
	}
	b.status.Reset()
	return simplemotion.StatusOK
}

// InjectFault latches fault bits on a drive, as the firmware would on a
// trip. Writing 0 to the fault register clears them.
func (b *Bus) InjectFault(addr uint8, faults uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[addr]; ok {
		n.regs[b.addr(simplemotion.Faults)] |= int32(faults)
	}
}

// FailRead makes reads of param on addr return code until cleared with
// StatusOK.
func (b *Bus) FailRead(addr uint8, param int16, code simplemotion.StatusCode) {
	b.setFailure(failure{node: addr, param: param}, code)
}

// FailWrite makes writes of param on addr return code until cleared with
// StatusOK.
func (b *Bus) FailWrite(addr uint8, param int16, code simplemotion.StatusCode) {
	b.setFailure(failure{node: addr, param: param, write: true}, code)
}

func (b *Bus) setFailure(f failure, code simplemotion.StatusCode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code.IsOK() {
		delete(b.failures, f)
		return
	}
	b.failures[f] = code
}

// FailOpen makes Open return err. Pass nil to restore.
func (b *Bus) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// FailClose makes Close report code. Pass StatusNone to restore.
func (b *Bus) FailClose(code simplemotion.StatusCode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeErr = code
}

// Register returns a raw register of a drive.
func (b *Bus) Register(addr uint8, param int16) (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[addr]
	if !ok {
		return 0, false
	}
	v, ok := n.regs[param]
	return v, ok
}

// Velocity returns the current raw velocity feedback of a drive.
func (b *Bus) Velocity(addr uint8) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[addr]; ok {
		return n.velocity
	}
	return 0
}

// Nodes returns the simulated drive addresses in order.
func (b *Bus) Nodes() []uint8 {
	out := append([]uint8(nil), b.cfg.Nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Log returns the open, close and write events seen so far.
func (b *Bus) Log() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

func (b *Bus) record(format string, args ...interface{}) {
	entry := fmt.Sprintf(format, args...)
	b.log = append(b.log, entry)
	b.logger.Debugw("sim", "event", entry)
}
