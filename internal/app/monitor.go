// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/gps"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
)

// MonitorOptions configures RunMonitor.
type MonitorOptions struct {
	Endpoint     gpsd.Endpoint
	Duration     time.Duration
	PollInterval time.Duration // default 500ms
	ClientOpts   []gpsd.Option
}

// MonitorResult is what RunMonitor observed.
type MonitorResult struct {
	Updates int
	Last    *gps.Position
	Elapsed time.Duration
}

// Passed reports whether at least one fix was received.
func (r MonitorResult) Passed() bool { return r.Last != nil }

var rule = strings.Repeat("=", 60)

// RunMonitor connects to gpsd, logs every new fix with the velocity and
// quality that accompany it, and logs a PASS/FAIL summary once opts.Duration
// has elapsed or ctx is cancelled. The error is non-nil only when the
// session could not be started.
func RunMonitor(ctx context.Context, opts MonitorOptions, log *zap.Logger) (MonitorResult, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	log.Info(rule)
	log.Info("GPS Monitor")
	log.Info(rule)
	log.Info("connecting to gpsd", zap.String("addr", opts.Endpoint.Addr()), zap.Duration("duration", opts.Duration))

	gc := gpsd.NewClient(opts.Endpoint, append([]gpsd.Option{gpsd.WithLogger(log)}, opts.ClientOpts...)...)
	defer gc.Close()

	if err := gc.StartStreaming(ctx); err != nil {
		log.Error("failed to start GPS session; make sure gpsd is running: sudo systemctl status gpsd", zap.Error(err))
		return MonitorResult{}, err
	}
	log.Info("waiting for GPS data (initial satellite lock may take 30-60 seconds)")

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var (
		res        MonitorResult
		lastWaited time.Duration
	)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		pos, ok := gc.LatestPosition()
		if !ok {
			if waited := time.Since(start).Truncate(5 * time.Second); waited > lastWaited {
				lastWaited = waited
				log.Info("still waiting for GPS fix", zap.Duration("elapsed", waited))
			}
			continue
		}
		if res.Last != nil && samePosition(*res.Last, pos) {
			continue
		}

		res.Updates++
		res.Last = &pos
		logFix(log, res.Updates, time.Since(start), pos, gc)
	}

	res.Elapsed = time.Since(start)
	logMonitorSummary(log, res)
	return res, nil
}

func samePosition(a, b gps.Position) bool {
	if a.Lat != b.Lat || a.Lon != b.Lon || (a.Alt == nil) != (b.Alt == nil) {
		return false
	}
	return a.Alt == nil || *a.Alt == *b.Alt
}

// logFix logs pos, the fix being counted, along with the latest velocity and
// quality.
func logFix(log *zap.Logger, n int, at time.Duration, pos gps.Position, gc *gpsd.Client) {
	log.Info(strings.Repeat("-", 60))
	log.Info(fmt.Sprintf("GPS Update #%d (at %.1fs)", n, at.Seconds()))
	log.Info(fmt.Sprintf("  Location: %.8f°, %.8f°", pos.Lat, pos.Lon))
	if pos.Alt != nil {
		log.Info(fmt.Sprintf("  Altitude: %.1f m", *pos.Alt))
	}

	if v, ok := gc.LatestVelocity(); ok {
		log.Info(fmt.Sprintf("  Velocity: %.2f m/s (%.1f km/h) @ %.1f°", v.SpeedMPS, v.SpeedMPS*3.6, v.TrackDeg))
		if v.ClimbMPS != 0 {
			log.Info(fmt.Sprintf("  Climb: %.2f m/s", v.ClimbMPS))
		}
	}

	if q, ok := gc.LatestQuality(); ok {
		line := fmt.Sprintf("  Satellites: %d/%d", q.SatellitesUsed, q.SatellitesVisible)
		if q.HDOP != nil {
			line += fmt.Sprintf(" | HDOP: %.2f", *q.HDOP)
		}
		if q.VDOP != nil {
			line += fmt.Sprintf(" | VDOP: %.2f", *q.VDOP)
		}
		if q.PDOP != nil {
			line += fmt.Sprintf(" | PDOP: %.2f", *q.PDOP)
		}
		log.Info(line)
		if q.HDOP != nil {
			log.Info("  GPS Quality: " + gps.RateHDOP(*q.HDOP))
		}
	}
}

func logMonitorSummary(log *zap.Logger, res MonitorResult) {
	log.Info(rule)
	log.Info("Monitor Summary")
	log.Info(rule)
	log.Info(fmt.Sprintf("Total GPS updates received: %d", res.Updates))
	log.Info(fmt.Sprintf("Monitor duration: %.1f seconds", res.Elapsed.Seconds()))

	if res.Passed() {
		log.Info(fmt.Sprintf("Last known location: %.8f°, %.8f°", res.Last.Lat, res.Last.Lon))
		log.Info("GPS Test: PASSED")
		return
	}

	log.Warn("No GPS fix obtained during monitoring")
	log.Warn("GPS Test: FAILED")
	log.Warn("Troubleshooting:")
	log.Warn("  1. Check gpsd is running: sudo systemctl status gpsd")
	log.Warn("  2. Test gpsd directly: cgps or gpsmon")
	log.Warn("  3. Ensure GPS device is connected: ls /dev/tty*")
	log.Warn("  4. Move to location with clear sky view")
	log.Warn("  5. Wait longer for initial satellite lock (can take 60+ seconds)")
}
