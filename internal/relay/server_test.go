// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/gps_streamer/internal/gpsd"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("relay server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(line)
}

func TestServer_WatchHandshakeAndBroadcast(t *testing.T) {
	srv, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	assert.Contains(t, readLine(t, r, conn), `"class":"VERSION"`)

	// Not watching yet: broadcasts are not delivered.
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.Broadcast([]byte("{\"class\":\"TPV\",\"mode\":1}\n"))

	_, err = conn.Write([]byte(`?WATCH={"enable":true,"json":true}` + "\n"))
	require.NoError(t, err)
	assert.Contains(t, readLine(t, r, conn), `"class":"DEVICES"`)
	assert.JSONEq(t, `{"class":"WATCH","enable":true,"json":true}`, readLine(t, r, conn))

	srv.Broadcast([]byte("{\"class\":\"TPV\",\"mode\":3}\n"))
	assert.Equal(t, `{"class":"TPV","mode":3}`, readLine(t, r, conn))
}

func TestServer_RepliesToOtherRequests(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	readLine(t, r, conn)

	_, err = conn.Write([]byte("?VERSION;\n?POLL;\n?WATCH={bad\n"))
	require.NoError(t, err)
	assert.Contains(t, readLine(t, r, conn), `"class":"VERSION"`)
	assert.Contains(t, readLine(t, r, conn), `Unrecognized request '?POLL'`)
	assert.Contains(t, readLine(t, r, conn), `"class":"ERROR"`)
}

func TestServer_DisconnectRemovesSession(t *testing.T) {
	srv, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	srv.Broadcast([]byte("{}\n"))
}

func TestPump_FeedsStreamingClient(t *testing.T) {
	srv, addr := startServer(t)

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	ep := gpsd.Endpoint{Host: host, Port: portNum, Timeout: time.Second}

	client := gpsd.NewClient(ep,
		gpsd.WithLogger(zaptest.NewLogger(t)),
		gpsd.WithReadTimeout(50*time.Millisecond),
	)
	t.Cleanup(client.Close)
	require.NoError(t, client.StartStreaming(context.Background()))

	nmea := strings.Join([]string{gga, gsa3D, gsv1, gsv2, rmcValid}, "\r\n") + "\r\n"

	// The client's WATCH may still be in flight; replay until the fix lands.
	require.Eventually(t, func() bool {
		if err := Pump(context.Background(), strings.NewReader(nmea), NewConverter(), srv.Broadcast, nil); err != nil {
			return false
		}
		_, ok := client.LatestPosition()
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	pos, _ := client.LatestPosition()
	assert.InDelta(t, 48.1173, pos.Lat, 1e-6)
	require.NotNil(t, pos.Alt)
	assert.InDelta(t, 545.4, *pos.Alt, 1e-9)

	require.Eventually(t, func() bool {
		q, ok := client.LatestQuality()
		return ok && q.SatellitesUsed == 5
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPump_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var emitted int
	err := Pump(ctx, strings.NewReader(rmcValid+"\n"), NewConverter(), func([]byte) { emitted++ }, nil)
	assert.NoError(t, err)
	assert.Zero(t, emitted)
}
