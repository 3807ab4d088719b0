// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spindle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultInterval is the control tick period.
const DefaultInterval = 10 * time.Millisecond

// HostIO is the host side of the control loop: the input signals read each
// tick and the output signals written back.
type HostIO interface {
	// Command returns the current orient-enable, orient-angle and
	// spindle-speed-rps inputs.
	Command() Command
	// Publish writes is-oriented, spindle-fb-rps, spindle-fb-rpm and
	// drive-error.
	Publish(out Outputs)
	// SetDriveError writes drive-error alone.
	SetDriveError(v bool)
}

// Conn is a drive that can be reopened. *simplemotion.Session satisfies it.
type Conn interface {
	Drive
	Reconnect() error
}

// Stats counts control loop events. Safe to read while the loop runs.
type Stats struct {
	Ticks             atomic.Uint64
	Errors            atomic.Uint64
	Reconnects        atomic.Uint64
	ReconnectFailures atomic.Uint64
	Faulted           atomic.Bool
}

// Runner owns the control loop. A tick error marks the loop faulted; the
// next tick boundary attempts exactly one reconnect and skips the tick if
// that fails. There is no backoff and no retry cap.
type Runner struct {
	conn     Conn
	machine  *Machine
	io       HostIO
	interval time.Duration
	logger   *zap.SugaredLogger

	limiter    *rate.Limiter
	suppressed int
	faulted    bool
	stats      Stats
}

// NewRunner returns a runner ticking every interval. A zero interval uses
// DefaultInterval.
func NewRunner(conn Conn, machine *Machine, io HostIO, interval time.Duration, logger *zap.SugaredLogger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		conn:     conn,
		machine:  machine,
		io:       io,
		interval: interval,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Stats returns the loop counters.
func (r *Runner) Stats() *Stats { return &r.stats }

// Run ticks until ctx is done, then commands zero velocity and returns the
// result of that command. The caller closes the session.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Infow("control loop started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return r.shutdown()
		}
		r.step()
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (r *Runner) step() {
	r.stats.Ticks.Inc()

	if r.faulted {
		if err := r.conn.Reconnect(); err != nil {
			r.stats.ReconnectFailures.Inc()
			r.logThrottled("reconnect failed", err)
			r.io.SetDriveError(true)
			return
		}
		r.faulted = false
		r.stats.Faulted.Store(false)
		r.stats.Reconnects.Inc()
		r.logger.Info("reconnected to drive")
	}

	out, err := r.machine.Tick(r.io.Command())
	if err != nil {
		r.faulted = true
		r.stats.Faulted.Store(true)
		r.stats.Errors.Inc()
		r.logThrottled("drive error, attempting to reconnect", err)
		r.io.SetDriveError(true)
		return
	}
	r.io.Publish(out)
}

// logThrottled logs at most once per second and reports how many messages
// were dropped in between.
func (r *Runner) logThrottled(msg string, err error) {
	if !r.limiter.Allow() {
		r.suppressed++
		return
	}
	r.logger.Errorw(msg, "error", err, "state", r.machine.State(), "suppressed", r.suppressed)
	r.suppressed = 0
}

func (r *Runner) shutdown() error {
	r.logger.Info("control loop stopping, commanding zero velocity")
	if r.faulted {
		// The handle is closed after a failed tick; try once to get it back.
		if err := r.conn.Reconnect(); err != nil {
			r.logger.Errorw("reconnect before shutdown failed", "error", err)
		} else {
			r.faulted = false
			r.stats.Faulted.Store(false)
			r.stats.Reconnects.Inc()
		}
	}
	if err := r.machine.Shutdown(); err != nil {
		r.logger.Errorw("failed to command zero velocity", "error", err)
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
