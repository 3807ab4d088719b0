// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Thermoquad/argonctl/pkg/gateway"
	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// driveAction runs against an open session. bus is the link the session is
// on, for link specific reporting.
type driveAction func(out io.Writer, sess *simplemotion.Session, bus simplemotion.Bus, args []string) error

// driveCommand wraps a one shot action taking <device> <address> first.
func driveCommand(use, short string, extra int, action driveAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2 + extra),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, bus, err := openSession(context.Background(), args)
			if err != nil {
				return err
			}
			defer sess.Close()
			return action(cmd.OutOrStdout(), sess, bus, args[2:])
		},
	}
}

var homeCmd = driveCommand("home <device> <address> <degrees>", "Home to the index plus an offset and wait for it to finish", 1, home)

func init() {
	homeCmd.Flags().DurationVar(&homeTimeout, "home-timeout", homeTimeout, "How long to wait for homing to finish")
	rootCmd.AddCommand(
		driveCommand("status <device> <address>", "Show drive status, faults and scaling", 0, showStatus),
		driveCommand("mode <device> <address> <pos|vel|torque|none>", "Set the drive control mode", 1, setMode),
		driveCommand("setpoint <device> <address> <raw>", "Write a raw absolute setpoint", 1, setSetpoint),
		driveCommand("velocity <device> <address> <rps>", "Command a velocity in revolutions per second", 1, setVelocity),
		homeCmd,
		driveCommand("clear-faults <device> <address>", "Clear drive faults and bus status", 0, clearFaults),
	)
}

func showStatus(out io.Writer, sess *simplemotion.Session, bus simplemotion.Bus, _ []string) error {
	status, err := sess.Status()
	if err != nil {
		return err
	}
	faults, err := sess.Faults()
	if err != nil {
		return err
	}
	setpoint, err := sess.AbsoluteSetpoint()
	if err != nil {
		return err
	}
	velocity, err := sess.VelocityRPS()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Drive:     %s address %d\n", sess.Device(), sess.Address())
	fmt.Fprintf(out, "Online:    %t\n", status.Run)
	fmt.Fprintf(out, "Status:    %s\n", status)
	fmt.Fprintf(out, "Faults:    %s\n", faults)
	fmt.Fprintf(out, "Setpoint:  %d (%.3f rps)\n", setpoint, sess.Scaling().SetpointToRPS(setpoint))
	fmt.Fprintf(out, "Velocity:  %.3f rps, %.1f rpm\n", velocity, velocity*60)
	fmt.Fprintf(out, "Scaling:   %s\n", sess.Scaling())
	fmt.Fprintf(out, "V limit:   %.3f rps\n", sess.Scaling().VelocityLimitRPS())

	// Latched error bits are reported, not returned.
	raw, _ := sess.BusStatus()
	fmt.Fprintf(out, "Bus:       %s\n", simplemotion.FormatCumulative(raw))
	if c, ok := bus.(*gateway.Client); ok {
		c.Statistics().CalculateRates()
		fmt.Fprintf(out, "Link:      %s\n", c.Statistics())
	}
	return nil
}

func setMode(out io.Writer, sess *simplemotion.Session, _ simplemotion.Bus, args []string) error {
	mode, err := simplemotion.ParseControlMode(args[0])
	if err != nil {
		return err
	}
	if err := sess.SetControlMode(mode); err != nil {
		return err
	}
	fmt.Fprintf(out, "Control mode set to %s\n", mode)
	return nil
}

func setSetpoint(out io.Writer, sess *simplemotion.Session, _ simplemotion.Bus, args []string) error {
	v, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return errors.Errorf("invalid setpoint %q: must be a 32 bit integer", args[0])
	}
	if err := sess.SetAbsoluteSetpoint(int32(v)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Setpoint set to %d\n", v)
	return nil
}

func setVelocity(out io.Writer, sess *simplemotion.Session, _ simplemotion.Bus, args []string) error {
	rps, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errors.Errorf("invalid velocity %q", args[0])
	}
	if err := sess.SetControlMode(simplemotion.ModeVelocity); err != nil {
		return err
	}
	if err := sess.SetVelocityRPS(rps); err != nil {
		return err
	}
	fmt.Fprintf(out, "Velocity set to %g rps (%g rpm)\n", rps, rps*60)
	return nil
}

// homePoll is how often home checks whether the index search has finished.
const homePoll = 10 * time.Millisecond

var homeTimeout = 30 * time.Second

func home(out io.Writer, sess *simplemotion.Session, _ simplemotion.Bus, args []string) error {
	deg, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errors.Errorf("invalid angle %q", args[0])
	}
	if err := sess.Home(deg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Homing started, offset %g degrees (%g counts)\n", deg, sess.Scaling().HomeOffsetCounts(deg))

	// Homing control must drop back to 0 so the next request is an edge.
	deadline := time.Now().Add(homeTimeout)
	for {
		st, err := sess.Status()
		if err != nil {
			return err
		}
		if !st.Homing {
			break
		}
		if time.Now().After(deadline) {
			return errors.Errorf("homing did not finish within %v, homing control left set", homeTimeout)
		}
		time.Sleep(homePoll)
	}
	if err := sess.SetHomingComplete(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Homing complete")
	return nil
}

func clearFaults(out io.Writer, sess *simplemotion.Session, _ simplemotion.Bus, _ []string) error {
	if err := sess.ClearFaults(); err != nil {
		return err
	}
	faults, err := sess.Faults()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Faults: %s\n", faults)
	return nil
}
