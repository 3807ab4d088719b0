// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads argonctl settings. Layers, later ones winning:
// built in defaults, an optional YAML file, ARGON_ environment variables
// (double underscore separates sections, ARGON_LINK__BAUD) and command line
// flags the user set.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/Thermoquad/argonctl/pkg/spindle"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultFile is read when no --config flag is given. A missing default file
// is not an error.
const DefaultFile = "argonctl.yaml"

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "ARGON_"

// Link types
const (
	LinkGateway = "gateway"
	LinkModbus  = "modbus"
	LinkSim     = "sim"
)

// Config is the full argonctl configuration.
type Config struct {
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Link    LinkConfig    `koanf:"link" yaml:"link"`
	Drive   DriveConfig   `koanf:"drive" yaml:"drive"`
	Spindle SpindleConfig `koanf:"spindle" yaml:"spindle"`
	HTTP    HTTPConfig    `koanf:"http" yaml:"http"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // console or json
}

// LinkConfig selects the bus a drive is reached through.
type LinkConfig struct {
	Type   string `koanf:"type" yaml:"type"`
	Device string `koanf:"device" yaml:"device"`
	Baud   int    `koanf:"baud" yaml:"baud"`
	// Timeout bounds one bus transaction.
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// ConnectRetry is how long the first connect keeps retrying. Zero tries
	// once.
	ConnectRetry time.Duration `koanf:"connect_retry" yaml:"connect_retry"`
	Username     string        `koanf:"username" yaml:"username"`
	NoSSLVerify  bool          `koanf:"no_ssl_verify" yaml:"no_ssl_verify"`
}

// DriveConfig describes the drive on the link.
type DriveConfig struct {
	Address     int    `koanf:"address" yaml:"address"`
	Family      string `koanf:"family" yaml:"family"`
	FilterDepth int    `koanf:"filter_depth" yaml:"filter_depth"`
	// Registers overrides parameter addresses by name.
	Registers map[string]int `koanf:"registers" yaml:"registers,omitempty"`
}

// SpindleConfig tunes the control loop.
type SpindleConfig struct {
	Interval     time.Duration `koanf:"interval" yaml:"interval"`
	Tolerance    float64       `koanf:"tolerance" yaml:"tolerance"`
	InitialState string        `koanf:"initial_state" yaml:"initial_state"`
	HoldOriented bool          `koanf:"hold_oriented" yaml:"hold_oriented"`
}

// HTTPConfig configures the pin panel. An empty Listen disables it.
type HTTPConfig struct {
	Listen string `koanf:"listen" yaml:"listen"`
}

// Default returns the built in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Link: LinkConfig{
			Type:    LinkGateway,
			Baud:    115200,
			Timeout: 500 * time.Millisecond,
		},
		Drive: DriveConfig{
			Address:     1,
			Family:      string(simplemotion.FamilyPIDDivider),
			FilterDepth: simplemotion.DefaultFilterDepth,
		},
		Spindle: SpindleConfig{
			Interval:     spindle.DefaultInterval,
			Tolerance:    spindle.DefaultTolerance,
			InitialState: spindle.Idle.String(),
		},
	}
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"link":          "link.type",
	"baud":          "link.baud",
	"timeout":       "link.timeout",
	"connect-retry": "link.connect_retry",
	"user":          "link.username",
	"no-ssl-verify": "link.no_ssl_verify",
	"family":        "drive.family",
	"filter-depth":  "drive.filter_depth",
	"interval":      "spindle.interval",
	"tolerance":     "spindle.tolerance",
	"initial-state": "spindle.initial_state",
	"hold-oriented": "spindle.hold_oriented",
	"listen":        "http.listen",
}

// Options controls Load.
type Options struct {
	// File is the YAML file to read. Empty reads DefaultFile if it exists.
	File string
	// Flags are applied last. Only flags named in FlagKeys are read, and
	// only when set by the user.
	Flags *pflag.FlagSet
}

// Load builds the configuration. It does not validate it.
func Load(opts Options) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load defaults")
	}

	path := opts.File
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, errors.Wrap(err, "load environment")
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithValue(opts.Flags, ".", k, func(name, value string) (string, interface{}) {
			key, ok := FlagKeys[name]
			if !ok {
				return "", nil
			}
			return key, value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, errors.Wrap(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// envKey maps ARGON_LINK__BAUD to link.baud. ARGON_LOG_LEVEL is accepted as
// a shorthand for ARGON_LOG__LEVEL. ARGON_PASSWORD is a secret, not a key.
func envKey(name string) string {
	switch name {
	case EnvPrefix + "PASSWORD":
		return ""
	case EnvPrefix + "LOG_LEVEL":
		return "log.level"
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs error
	add := func(err error) { errs = multierr.Append(errs, err) }

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add(errors.Errorf("log.level: %v", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add(errors.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}

	switch c.Link.Type {
	case LinkGateway, LinkModbus:
		if c.Link.Device == "" {
			add(errors.Errorf("link.device: required for %s links", c.Link.Type))
		}
	case LinkSim:
	default:
		add(errors.Errorf("link.type: must be gateway, modbus or sim, got %q", c.Link.Type))
	}
	if c.Link.Baud <= 0 {
		add(errors.Errorf("link.baud: must be positive, got %d", c.Link.Baud))
	}
	if c.Link.Timeout <= 0 {
		add(errors.Errorf("link.timeout: must be positive, got %v", c.Link.Timeout))
	}
	if c.Link.ConnectRetry < 0 {
		add(errors.Errorf("link.connect_retry: must not be negative, got %v", c.Link.ConnectRetry))
	}

	if c.Drive.Address < 1 || c.Drive.Address > 255 {
		add(errors.Errorf("drive.address: must be 1-255, got %d", c.Drive.Address))
	}
	if _, err := simplemotion.ParseFamily(c.Drive.Family); err != nil {
		add(errors.Wrap(err, "drive.family"))
	}
	if c.Drive.FilterDepth < 1 {
		add(errors.Errorf("drive.filter_depth: must be at least 1, got %d", c.Drive.FilterDepth))
	}
	if _, err := simplemotion.NewRegisterMap(c.Drive.Registers); err != nil {
		add(errors.Wrap(err, "drive.registers"))
	}

	if c.Spindle.Interval <= 0 {
		add(errors.Errorf("spindle.interval: must be positive, got %v", c.Spindle.Interval))
	}
	if !(c.Spindle.Tolerance > 0) {
		add(errors.Errorf("spindle.tolerance: must be positive, got %v", c.Spindle.Tolerance))
	}
	if st, err := spindle.ParseState(c.Spindle.InitialState); err != nil {
		add(errors.Wrap(err, "spindle.initial_state"))
	} else if st != spindle.Idle && st != spindle.SwitchToSpindle {
		add(errors.Errorf("spindle.initial_state: must be %s or %s, got %s", spindle.Idle, spindle.SwitchToSpindle, st))
	}
	return errs
}

// RegisterMap returns the parameter addresses with overrides applied.
func (c Config) RegisterMap() (simplemotion.RegisterMap, error) {
	return simplemotion.NewRegisterMap(c.Drive.Registers)
}

// MachineConfig returns the state machine settings.
func (c Config) MachineConfig() (spindle.Config, error) {
	st, err := spindle.ParseState(c.Spindle.InitialState)
	if err != nil {
		return spindle.Config{}, err
	}
	return spindle.Config{
		InitialState: st,
		HoldOriented: c.Spindle.HoldOriented,
		Tolerance:    c.Spindle.Tolerance,
	}, nil
}

// YAML renders the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}
