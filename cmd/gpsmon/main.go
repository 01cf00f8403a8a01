// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/app"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
	"github.com/relabs-tech/gps_streamer/internal/logging"
)

// errNoFix makes the process exit non-zero without printing usage.
var errNoFix = errors.New("no GPS fix obtained")

type monitorFlags struct {
	host      string
	port      int
	duration  int
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	var f monitorFlags

	cmd := &cobra.Command{
		Use:   "gpsmon",
		Short: "Check that gpsd delivers fixes",
		Long: `gpsmon connects to gpsd, streams TPV/SKY reports for a fixed duration and
logs every new fix with its velocity and satellite quality.

It exits 0 when at least one fix arrived and 1 otherwise.

Example:
  gpsmon --host raspberrypi.local --duration 60`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.host, "host", gpsd.DefaultHost, "gpsd host address")
	cmd.Flags().IntVar(&f.port, "port", gpsd.DefaultPort, "gpsd port")
	cmd.Flags().IntVar(&f.duration, "duration", 30, "monitor duration in seconds")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", logging.FormatConsole, "log format (console, json)")

	return cmd
}

func runMonitor(ctx context.Context, f monitorFlags) error {
	if f.duration <= 0 {
		return fmt.Errorf("--duration must be positive, got %d", f.duration)
	}

	logger, err := logging.New(f.logLevel, f.logFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	res, err := app.RunMonitor(ctx, app.MonitorOptions{
		Endpoint: gpsd.Endpoint{Host: f.host, Port: f.port},
		Duration: time.Duration(f.duration) * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	if !res.Passed() {
		return errNoFix
	}
	logger.Debug("monitor finished", zap.Int("updates", res.Updates))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNoFix) {
			fmt.Fprintln(os.Stderr, "gpsmon:", err)
		}
		stop()
		os.Exit(1)
	}
}
