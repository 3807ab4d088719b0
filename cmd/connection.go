// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/argonctl/pkg/config"
	"github.com/Thermoquad/argonctl/pkg/gateway"
	"github.com/Thermoquad/argonctl/pkg/modbuslink"
	"github.com/Thermoquad/argonctl/pkg/simdrive"
	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(config.EnvPrefix + "PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// applyTarget stores the <device> <address> arguments in cfg and validates
// the result.
func applyTarget(c *config.Config, device, address string) error {
	addr, err := strconv.ParseUint(address, 0, 8)
	if err != nil {
		return errors.Errorf("invalid drive address %q: must be 1-255", address)
	}
	c.Link.Device = device
	c.Drive.Address = int(addr)
	return c.Validate()
}

// newBus builds the link selected by c.Link.Type.
func newBus(c config.Config, log *zap.SugaredLogger) (simplemotion.Bus, error) {
	switch c.Link.Type {
	case config.LinkGateway:
		password := ""
		if gateway.IsWebSocketURL(c.Link.Device) && c.Link.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, err
			}
		}
		dial := gateway.NewDialer(gateway.DialConfig{
			BaudRate:      c.Link.Baud,
			Username:      c.Link.Username,
			Password:      password,
			SkipSSLVerify: c.Link.NoSSLVerify,
		})
		return gateway.NewClient(dial, log.Named("gateway")), nil

	case config.LinkModbus:
		return modbuslink.New(modbuslink.NewOpener(c.Link.Baud), log.Named("modbus")), nil

	case config.LinkSim:
		return newSimBus(c, log)
	}
	return nil, errors.Errorf("unknown link type %q", c.Link.Type)
}

// newSimBus returns a simulated drive at the configured address.
func newSimBus(c config.Config, log *zap.SugaredLogger) (*simdrive.Bus, error) {
	regs, err := c.RegisterMap()
	if err != nil {
		return nil, err
	}
	sc := simdrive.DefaultConfig()
	sc.Registers = regs
	sc.Nodes = []uint8{uint8(c.Drive.Address)}
	return simdrive.New(sc, log.Named("sim"))
}

// connect opens a session, retrying with exponential backoff for up to
// c.Link.ConnectRetry. Scaling problems are not retried.
func connect(ctx context.Context, c config.Config, bus simplemotion.Bus, log *zap.SugaredLogger) (*simplemotion.Session, error) {
	regs, err := c.RegisterMap()
	if err != nil {
		return nil, err
	}
	if _, err := simplemotion.ParseFamily(c.Drive.Family); err != nil {
		return nil, err
	}
	opts := []simplemotion.Option{
		simplemotion.WithTimeout(c.Link.Timeout),
		simplemotion.WithRegisterMap(regs),
		simplemotion.WithFilterDepth(c.Drive.FilterDepth),
		simplemotion.WithLogger(log.Named("session")),
	}

	var (
		sess    *simplemotion.Session
		lastErr error
		fatal   bool
	)
	op := func() error {
		s, err := simplemotion.Connect(bus, c.Link.Device, uint8(c.Drive.Address), opts...)
		if err == nil {
			sess = s
			return nil
		}
		lastErr = err
		var scaling *simplemotion.ScalingError
		if errors.As(err, &scaling) {
			fatal = true
			return nil
		}
		log.Warnw("connect failed", "device", c.Link.Device, "error", err)
		return err
	}

	if c.Link.ConnectRetry <= 0 {
		if err := op(); err != nil || fatal {
			return nil, lastErr
		}
		return sess, nil
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     250 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      c.Link.ConnectRetry,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil || fatal {
		if lastErr == nil {
			lastErr = err
		}
		return nil, errors.Wrapf(lastErr, "could not connect to %s", c.Link.Device)
	}
	return sess, nil
}

// openSession is the common path for commands taking <device> <address>.
func openSession(ctx context.Context, args []string) (*simplemotion.Session, simplemotion.Bus, error) {
	c := cfg
	if err := applyTarget(&c, args[0], args[1]); err != nil {
		return nil, nil, err
	}
	cfg = c
	bus, err := newBus(c, logger)
	if err != nil {
		return nil, nil, err
	}
	sess, err := connect(ctx, c, bus, logger)
	if err != nil {
		return nil, nil, err
	}
	return sess, bus, nil
}
