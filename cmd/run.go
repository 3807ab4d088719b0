// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Thermoquad/argonctl/pkg/hostio"
	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/Thermoquad/argonctl/pkg/spindle"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <device> <address> [interval-ms]",
	Short: "Run the spindle control loop",
	Long: `Run the spindle control loop against one drive until interrupted.

Host inputs (orient-enable, orient-angle, spindle-speed-rps) are set through
the HTTP pin panel when --listen is given. On exit zero velocity is commanded
and the link is closed.

Examples:
  argonctl run /dev/ttyUSB0 1
  argonctl run /dev/ttyUSB0 1 5 --listen :8080
  argonctl run --link sim sim 1`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addLoopFlags(runCmd)
}

// addLoopFlags registers the control loop flags shared by run and monitor.
func addLoopFlags(c *cobra.Command) {
	f := c.Flags()
	f.Duration("interval", spindle.DefaultInterval, "Control tick period")
	f.Float64("tolerance", spindle.DefaultTolerance, "Setpoint change in RPS below which no write is made")
	f.String("initial-state", spindle.Idle.String(), "Initial state (idle, switch-to-spindle)")
	f.Bool("hold-oriented", false, "Stay oriented while orient-enable is held")
	f.String("listen", "", "Serve the HTTP pin panel on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 3 {
		ms, err := strconv.Atoi(args[2])
		if err != nil || ms <= 0 {
			return errors.Errorf("invalid interval %q: must be a positive number of milliseconds", args[2])
		}
		cfg.Spindle.Interval = time.Duration(ms) * time.Millisecond
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, _, err := openSession(ctx, args)
	if err != nil {
		return err
	}
	defer sess.Close()

	pins := hostio.NewPins()
	runner, err := newRunner(sess, pins, logger)
	if err != nil {
		return err
	}

	srv := startPinServer(cfg.HTTP.Listen, pins, logger, stop)
	return multierr.Append(runner.Run(ctx), srv.shutdown())
}

// pinServer serves the HTTP pin panel. A nil *pinServer is disabled.
type pinServer struct {
	srv *http.Server
}

// startPinServer serves pins on addr in the background, calling fail if the
// listener stops unexpectedly. An empty addr returns nil.
func startPinServer(addr string, pins *hostio.Pins, log *zap.SugaredLogger, fail func()) *pinServer {
	if addr == "" {
		return nil
	}
	s := &pinServer{srv: &http.Server{Addr: addr, Handler: hostio.Handler(pins, log.Named("http"))}}
	go func() {
		log.Infow("pin panel listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("pin panel stopped", "error", err)
			fail()
		}
	}()
	return s
}

func (s *pinServer) shutdown() error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// newRunner clears any latched faults, then builds the state machine and
// runner from cfg.
func newRunner(sess *simplemotion.Session, pins *hostio.Pins, log *zap.SugaredLogger) (*spindle.Runner, error) {
	if err := sess.ClearFaults(); err != nil {
		return nil, errors.Wrap(err, "clear faults")
	}
	mc, err := cfg.MachineConfig()
	if err != nil {
		return nil, err
	}
	machine, err := spindle.NewMachine(sess, mc, log.Named("spindle"))
	if err != nil {
		return nil, err
	}
	return spindle.NewRunner(sess, machine, pins, cfg.Spindle.Interval, log.Named("runner")), nil
}
