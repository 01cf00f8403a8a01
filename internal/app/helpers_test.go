// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/gps_streamer/internal/gpsd"
	"github.com/relabs-tech/gps_streamer/internal/relay"
)

const (
	nmeaGGA  = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	nmeaGSA  = "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39"
	nmeaGSV1 = "$GPGSV,2,1,08,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45*75"
	nmeaGSV2 = "$GPGSV,2,2,08,04,45,099,42,05,30,150,38,09,10,200,30,24,60,010,47*70"
	nmeaRMC  = "$GPRMC,123519.250,A,4807.038,N,01131.000,E,022.4,084.4,191026,003.1,W*71"
)

// fixEpoch is one receiver epoch: a 3D fix with 5 of 8 satellites used.
var fixEpoch = strings.Join([]string{nmeaGGA, nmeaGSA, nmeaGSV1, nmeaGSV2, nmeaRMC}, "\r\n") + "\r\n"

// testRelay is an in-process gpsd built from the NMEA relay.
type testRelay struct {
	srv *relay.Server
	ep  gpsd.Endpoint
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := relay.NewServer(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testRelay{
		srv: srv,
		ep: gpsd.Endpoint{
			Host:    "127.0.0.1",
			Port:    ln.Addr().(*net.TCPAddr).Port,
			Timeout: time.Second,
		},
	}
}

// sendEpoch broadcasts one NMEA epoch to every watching client.
func (r *testRelay) sendEpoch(t *testing.T) {
	t.Helper()
	require.NoError(t, pumpEpoch(r))
}

func pumpEpoch(r *testRelay) error {
	return relay.Pump(context.Background(), strings.NewReader(fixEpoch), relay.NewConverter(), r.srv.Broadcast, nil)
}

// feedUntil keeps sending epochs until cond holds; the first epochs may race
// the client's WATCH.
func (r *testRelay) feedUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.sendEpoch(t)
		if cond() {
			return
		}
		time.Sleep(30 * time.Millisecond)
	}
	t.Fatal("condition not met while feeding the relay")
}

func fastClientOpts() []gpsd.Option {
	return []gpsd.Option{
		gpsd.WithReadTimeout(50 * time.Millisecond),
		gpsd.WithReconnectDelays(10*time.Millisecond, 50*time.Millisecond),
		gpsd.WithStopGrace(time.Second),
	}
}

func startClient(t *testing.T, r *testRelay) *gpsd.Client {
	t.Helper()
	opts := append([]gpsd.Option{gpsd.WithLogger(zaptest.NewLogger(t))}, fastClientOpts()...)
	gc := gpsd.NewClient(r.ep, opts...)
	t.Cleanup(gc.Close)
	require.NoError(t, gc.StartStreaming(context.Background()))
	return gc
}
