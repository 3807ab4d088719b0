// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/argonctl/pkg/gateway"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff <device>",
	Short: "Display gateway frames in human-readable format",
	Long: `Continuously decode and display gateway protocol frames as they arrive.

Each frame is shown with its timestamp, node, message type and decoded
payload. Decode errors are shown inline. Works on a serial tap or a
websocket gateway.`,
	Args: cobra.ExactArgs(1),
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, args []string) error {
	password := ""
	if gateway.IsWebSocketURL(args[0]) && cfg.Link.Username != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}
	dial := gateway.NewDialer(gateway.DialConfig{
		BaudRate:      cfg.Link.Baud,
		Username:      cfg.Link.Username,
		Password:      password,
		SkipSSLVerify: cfg.Link.NoSSLVerify,
	})
	conn, err := dial(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "argonctl - Gateway Frame Log\n")
	fmt.Fprintf(out, "Connection: %s\n", args[0])
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	stats := gateway.NewStatistics()
	decoder := gateway.NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr == nil && packet == nil {
				continue
			}
			stats.RecordDecode(packet, decodeErr)
			if decodeErr != nil {
				fmt.Fprintf(out, "[ERROR] %v\n", decodeErr)
				continue
			}
			fmt.Fprintln(out, gateway.FormatPacket(packet))
		}
		if err != nil {
			stats.CalculateRates()
			fmt.Fprintf(out, "\n%s\n", stats)
			if ctx.Err() != nil || errors.Is(err, gateway.ErrConnectionClosed) {
				return nil
			}
			return errors.Wrap(err, "read")
		}
	}
}
