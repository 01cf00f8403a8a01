// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/relay"
)

// RunRelay reads NMEA from the GPS serial port and serves it as a gpsd
// JSON feed on RELAY_LISTEN_ADDR until ctx is cancelled or the port fails.
func RunRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// NOTE: adjust GPS_SERIAL_PORT to match your setup: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.GPSSerialPort, err)
	}
	defer port.Close()
	log.Info("GPS serial port opened",
		zap.String("port", serialOpts.PortName), zap.Uint("baud", serialOpts.BaudRate))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reads on the port block; closing it is the only way to interrupt them.
	stop := context.AfterFunc(runCtx, func() { _ = port.Close() })
	defer stop()

	srv := relay.NewServer(log)
	serveErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe(runCtx, cfg.RelayListenAddr)
		if err != nil {
			cancel()
		}
		serveErr <- err
	}()

	pumpErr := relay.Pump(runCtx, port, relay.NewConverter(), srv.Broadcast, log)
	cancel()
	if err := <-serveErr; err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	if pumpErr == nil {
		pumpErr = errors.New("serial port closed")
	}
	return pumpErr
}
