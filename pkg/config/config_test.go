// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/Thermoquad/argonctl/pkg/spindle"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argonctl.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("link", "gateway", "")
	fs.Int("baud", 115200, "")
	fs.Duration("timeout", 500*time.Millisecond, "")
	fs.Bool("hold-oriented", false, "")
	fs.String("listen", "", "")
	fs.Bool("unrelated", false, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoad_Layers(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
link:
  type: modbus
  device: tcp://10.0.0.2:502
  baud: 57600
  timeout: 250ms
drive:
  address: 3
  registers:
    encoder_ppr: 600
spindle:
  interval: 20ms
  initial_state: switch_to_spindle
`)
	t.Setenv("ARGON_LINK__BAUD", "9600")
	t.Setenv("ARGON_SPINDLE__TOLERANCE", "0.5")
	t.Setenv("ARGON_PASSWORD", "secret")

	fs := testFlags()
	if err := fs.Parse([]string{"--timeout", "1s", "--hold-oriented"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{File: path, Flags: fs})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Log.Level = "debug"
	want.Link.Type = LinkModbus
	want.Link.Device = "tcp://10.0.0.2:502"
	// env beats file, flag beats file
	want.Link.Baud = 9600
	want.Link.Timeout = time.Second
	want.Drive.Address = 3
	want.Drive.Registers = map[string]int{"encoder_ppr": 600}
	want.Spindle.Interval = 20 * time.Millisecond
	want.Spindle.InitialState = "switch_to_spindle"
	want.Spindle.Tolerance = 0.5
	want.Spindle.HoldOriented = true
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	mc, err := cfg.MachineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if mc.InitialState != spindle.SwitchToSpindle || !mc.HoldOriented || mc.Tolerance != 0.5 {
		t.Errorf("machine config = %+v", mc)
	}
	regs, err := cfg.RegisterMap()
	if err != nil {
		t.Fatal(err)
	}
	if got := regs.Address(simplemotion.EncoderPpr); got != 600 {
		t.Errorf("encoder_ppr address = %d, want 600", got)
	}
}

func TestLoad_LogLevelShorthand(t *testing.T) {
	t.Setenv("ARGON_LOG_LEVEL", "warn")
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(Options{File: writeFile(t, "link: [")}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ARGON_LINK__BAUD":               "link.baud",
		"ARGON_DRIVE__FILTER_DEPTH":      "drive.filter_depth",
		"ARGON_DRIVE__REGISTERS__FAULTS": "drive.registers.faults",
		"ARGON_LOG_LEVEL":                "log.level",
		"ARGON_PASSWORD":                 "",
		"ARGON_SOMETHING":                "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Link.Device = "/dev/ttyUSB0"
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	sim := Default()
	sim.Link.Type = LinkSim
	if err := sim.Validate(); err != nil {
		t.Errorf("sim link without device rejected: %v", err)
	}

	bad := Config{
		Log:  LogConfig{Level: "loud", Format: "xml"},
		Link: LinkConfig{Type: "can", Baud: 0, Timeout: 0, ConnectRetry: -1},
		Drive: DriveConfig{
			Address:     0,
			Family:      "legacy-multiplier",
			FilterDepth: 0,
			Registers:   map[string]int{"bogus": 1},
		},
		Spindle: SpindleConfig{Interval: 0, Tolerance: -1, InitialState: "oriented"},
	}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	errs := multierr.Errors(err)
	if len(errs) != 13 {
		t.Errorf("got %d errors, want 13:\n%v", len(errs), err)
	}
	for _, key := range []string{"log.level", "link.type", "drive.family", "drive.registers", "spindle.initial_state"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("errors do not mention %s", key)
		}
	}
}

func TestValidate_Tolerance(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		wantErr   bool
	}{
		{"default", 0.01, false},
		{"zero", 0, true},
		{"negative", -0.5, true},
		{"not a number", math.NaN(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Link.Device = "/dev/ttyUSB0"
			cfg.Spindle.Tolerance = tt.tolerance
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "spindle.tolerance: must be positive") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestYAML(t *testing.T) {
	cfg := Default()
	cfg.Link.Device = "ws://gateway.local/bus"
	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"connect_retry:", "device: ws://gateway.local/bus", "interval: 10ms", "initial_state: idle"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("YAML missing %q:\n%s", want, out)
		}
	}

	path := writeFile(t, string(out))
	back, err := Load(Options{File: path})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("reloaded config (-want +got):\n%s", diff)
	}
}
