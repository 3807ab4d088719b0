// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// argonctl - Argon Servo Drive Control
//
// A CLI tool for configuring Argon servo drives over the SimpleMotion
// parameter protocol and running the spindle control loop.

package main

import (
	"os"

	"github.com/Thermoquad/argonctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
