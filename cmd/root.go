// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"time"

	"github.com/Thermoquad/argonctl/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string

	// Loaded by the root command before any subcommand runs.
	cfg    config.Config
	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "argonctl",
	Short: "Argon servo drive control",
	Long: `argonctl - Control Argon servo drives over the SimpleMotion parameter protocol.

The drive is reached through a link:
  gateway: framed serial bridge, or a websocket bridge for ws:// and wss:// devices
  modbus:  Modbus bridge, tcp://host:port for Modbus TCP, otherwise RTU on a serial port
  sim:     in-memory simulated drive

Settings are read from argonctl.yaml (or --config), then ARGON_ environment
variables (ARGON_LINK__BAUD=57600), then flags.

For websocket authentication, the password is read from the ARGON_PASSWORD
environment variable, or prompted interactively if not set. A --password flag
is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configFile, "config", "c", "", "Config file (default ./"+config.DefaultFile+" if present)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "console", "Log format (console, json)")

	// Link flags
	f.StringP("link", "l", config.LinkGateway, "Link type (gateway, modbus, sim)")
	f.IntP("baud", "b", 115200, "Baud rate (serial devices only)")
	f.Duration("timeout", 500*time.Millisecond, "Per transaction timeout")
	f.Duration("connect-retry", 0, "Keep retrying the first connect for this long")
	f.String("user", "", "Username for HTTP Basic auth (websocket only)")
	f.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Drive flags
	f.String("family", "pid-divider", "Velocity conversion family")
	f.Int("filter-depth", 10, "Velocity feedback moving average depth")
}

// loadConfig builds cfg and logger from the file, environment and flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	cfg = c
	l, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
