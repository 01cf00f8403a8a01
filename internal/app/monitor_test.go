// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/gps_streamer/internal/gps"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
)

func TestRunMonitor_PassesWithFix(t *testing.T) {
	r := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopFeed := make(chan struct{})
	defer close(stopFeed)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
				_ = pumpEpoch(r)
			}
		}
	}()

	core, logs := observer.New(zap.InfoLevel)
	res, err := RunMonitor(ctx, MonitorOptions{
		Endpoint:     r.ep,
		Duration:     time.Second,
		PollInterval: 20 * time.Millisecond,
		ClientOpts:   fastClientOpts(),
	}, zap.New(core))
	require.NoError(t, err)

	assert.True(t, res.Passed())
	assert.Equal(t, 1, res.Updates, "the same fix repeated is one update")
	assert.InDelta(t, 48.1173, res.Last.Lat, 1e-6)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)

	assert.Equal(t, 1, logs.FilterMessage("GPS Test: PASSED").Len())
	assert.Equal(t, 1, logs.FilterMessage("  Altitude: 545.4 m").Len())
}

func TestRunMonitor_FailsWithoutFix(t *testing.T) {
	r := startRelay(t)

	core, logs := observer.New(zap.InfoLevel)
	res, err := RunMonitor(context.Background(), MonitorOptions{
		Endpoint:     r.ep,
		Duration:     200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		ClientOpts:   fastClientOpts(),
	}, zap.New(core))
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Zero(t, res.Updates)
	assert.Equal(t, 1, logs.FilterMessage("GPS Test: FAILED").Len())
}

func TestRunMonitor_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = RunMonitor(context.Background(), MonitorOptions{
		Endpoint: gpsd.Endpoint{Host: "127.0.0.1", Port: port, Timeout: time.Second},
		Duration: time.Second,
	}, zap.NewNop())
	assert.ErrorIs(t, err, gpsd.ErrConnect)
}

func TestSamePosition(t *testing.T) {
	a := gps.Position{Lat: 1, Lon: 2, Alt: gps.Float(3)}
	assert.True(t, samePosition(a, a.Clone()))
	assert.False(t, samePosition(a, gps.Position{Lat: 1, Lon: 2}))
	assert.False(t, samePosition(a, gps.Position{Lat: 1, Lon: 2.5, Alt: gps.Float(3)}))
	assert.True(t, samePosition(gps.Position{Lat: 1}, gps.Position{Lat: 1}))
}

func TestLogFix_LogsTheCountedPosition(t *testing.T) {
	// The client cache is empty; only the position passed in may be logged.
	gc := gpsd.NewClient(gpsd.Endpoint{})
	defer gc.Close()

	core, logs := observer.New(zap.InfoLevel)
	logFix(zap.New(core), 3, 1500*time.Millisecond, gps.Position{Lat: 48.5, Lon: 11.25, Alt: gps.Float(12)}, gc)

	assert.Equal(t, 1, logs.FilterMessage("GPS Update #3 (at 1.5s)").Len())
	assert.Equal(t, 1, logs.FilterMessage("  Location: 48.50000000°, 11.25000000°").Len())
	assert.Equal(t, 1, logs.FilterMessage("  Altitude: 12.0 m").Len())
	assert.Zero(t, logs.FilterMessageSnippet("Velocity").Len())
}
