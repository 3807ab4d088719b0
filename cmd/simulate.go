// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/argonctl/pkg/gateway"
	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var simWSListen string

var simulateCmd = &cobra.Command{
	Use:   "simulate [serial-port]",
	Short: "Serve a simulated drive over the gateway protocol",
	Long: `Serve a simulated drive at the configured drive address over the gateway
protocol, on a serial port, a websocket endpoint, or both.

Examples:
  # Answer on one end of a virtual serial pair
  argonctl simulate /dev/pts/3

  # Websocket gateway at ws://localhost:8081/gateway
  argonctl simulate --ws-listen :8081`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simWSListen, "ws-listen", "", "Serve websocket clients on this address at /gateway")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && simWSListen == "" {
		return errors.New("nothing to serve: give a serial port or --ws-listen")
	}

	bus, err := newSimBus(cfg, logger)
	if err != nil {
		return err
	}
	h, err := bus.Open("sim")
	if err != nil {
		return err
	}
	defer bus.Close(h)
	handler := gateway.BusHandler{Bus: bus, Handle: h}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	running := 0

	if len(args) == 1 {
		conn, err := gateway.OpenSerialConnection(args[0], cfg.Link.Baud, 100*time.Millisecond)
		if err != nil {
			return err
		}
		running++
		logger.Infow("serving simulated drive", "port", args[0], "baud", cfg.Link.Baud, "address", cfg.Drive.Address)
		go func() { errc <- gateway.Serve(ctx, conn, handler, logger.Named("serve")) }()
	}

	var srv *http.Server
	if simWSListen != "" {
		r := chi.NewRouter()
		r.Handle("/gateway", gateway.WebSocketHandler(ctx, handler, logger.Named("ws")))
		srv = &http.Server{Addr: simWSListen, Handler: r}
		running++
		logger.Infow("serving simulated drive", "listen", simWSListen, "address", cfg.Drive.Address)
		go func() {
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				err = nil
			}
			errc <- err
		}()
	}

	var errs error
	select {
	case <-ctx.Done():
	case err := <-errc:
		running--
		errs = multierr.Append(errs, err)
		stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))
	}
	for ; running > 0; running-- {
		errs = multierr.Append(errs, <-errc)
	}
	logger.Infow("simulation stopped", "bus", simplemotion.FormatCumulative(bus.CumulativeStatus(h)))
	return errs
}
