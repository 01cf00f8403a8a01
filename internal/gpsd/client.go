// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

const (
	DefaultHost    = "localhost"
	DefaultPort    = 2947
	DefaultTimeout = 5 * time.Second

	defaultReadTimeout  = 1 * time.Second
	defaultShortDelay   = 1 * time.Second
	defaultLongDelay    = 5 * time.Second
	defaultIdleDelay    = 1 * time.Second
	defaultStopGrace    = 2 * time.Second
	defaultReadSize     = 4096
	defaultMaxLineBytes = 256 * 1024
)

// watchCommand enables JSON streaming reports.
const watchCommand = "?WATCH={\"enable\":true,\"json\":true}\n"

// Endpoint is the gpsd address. Timeout bounds the dial and the WATCH write.
type Endpoint struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ConnState is the socket state of a Client.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReadTimeout sets how long a single socket read may block. It bounds how
// quickly the read loop notices StopStreaming.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithReconnectDelays sets the two backoff tiers: short is slept before every
// reconnect attempt, long after an attempt failed.
func WithReconnectDelays(short, long time.Duration) Option {
	return func(c *Client) {
		if short > 0 {
			c.shortDelay = short
		}
		if long > 0 {
			c.longDelay = long
		}
	}
}

// WithIdleDelay sets the pause used when the read loop finds no open socket.
func WithIdleDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idleDelay = d
		}
	}
}

// WithStopGrace bounds how long StopStreaming waits for the read loop.
func WithStopGrace(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// WithSubscriberBacklog sets the per-subscriber backlog above which a slow
// subscriber is logged. Backlogs are not capped.
func WithSubscriberBacklog(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.backlogWarn = n
		}
	}
}

func WithMaxLineBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxLineBytes = n
		}
	}
}

// Client keeps a gpsd session alive, decodes TPV and SKY reports, caches the
// latest value of each report type and fans reports out to subscribers.
type Client struct {
	ep      Endpoint
	log     *zap.Logger
	metrics *Metrics

	readTimeout  time.Duration
	shortDelay   time.Duration
	longDelay    time.Duration
	idleDelay    time.Duration
	stopGrace    time.Duration
	backlogWarn  int
	maxLineBytes int

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// mu is the state guard; Connect and Disconnect hold it.
	mu    sync.Mutex
	conn  net.Conn
	state ConnState

	// runMu serializes StartStreaming and StopStreaming.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	cache cache
	subs  *registry
}

// NewClient builds a client for ep. Zero fields of ep get the gpsd defaults.
func NewClient(ep Endpoint, opts ...Option) *Client {
	if ep.Host == "" {
		ep.Host = DefaultHost
	}
	if ep.Port == 0 {
		ep.Port = DefaultPort
	}
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}

	c := &Client{
		ep:           ep,
		log:          zap.NewNop(),
		readTimeout:  defaultReadTimeout,
		shortDelay:   defaultShortDelay,
		longDelay:    defaultLongDelay,
		idleDelay:    defaultIdleDelay,
		stopGrace:    defaultStopGrace,
		maxLineBytes: defaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dial = (&net.Dialer{Timeout: ep.Timeout}).DialContext
	c.log = c.log.With(zap.String("addr", ep.Addr()))
	c.subs = newRegistry(c.log, c.metrics, c.backlogWarn)
	return c
}

func (c *Client) Endpoint() Endpoint { return c.ep }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials gpsd and sends the WATCH command. Any open socket is closed
// first. Connect does not retry.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	addr := c.ep.Addr()
	c.log.Info("connecting to gpsd")

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Op: "dial", Err: err}
	}
	if err := gpsdWatch(conn, c.ep.Timeout); err != nil {
		_ = conn.Close()
		return &ConnectError{Addr: addr, Op: "watch", Err: err}
	}
	// A session being stopped must not get its socket back.
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return &ConnectError{Addr: addr, Op: "dial", Err: err}
	}

	c.conn = conn
	c.state = Connected
	c.metrics.setConnected(true)
	c.log.Info("connected to gpsd")
	return nil
}

func gpsdWatch(conn net.Conn, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := io.WriteString(conn, watchCommand); err != nil {
		return err
	}
	return conn.SetWriteDeadline(time.Time{})
}

// Disconnect closes the socket, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Warn("error closing gpsd socket", zap.Error(err))
		}
		c.conn = nil
		c.log.Info("disconnected from gpsd")
	}
	c.state = Disconnected
	c.metrics.setConnected(false)
}

// closeIfCurrent closes conn and, if it is still the client's socket, marks
// the client disconnected. A socket installed by a later Connect is kept.
func (c *Client) closeIfCurrent(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.closeLocked()
		return
	}
	_ = conn.Close()
}

func (c *Client) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// StartStreaming connects if needed and starts the read loop. It returns
// immediately; only the initial connect can fail. Calling it while already
// streaming is a no-op. ctx bounds the initial connect only; the session
// lasts until StopStreaming.
func (c *Client) StartStreaming(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		c.log.Warn("gps streaming already running")
		return nil
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return ErrSessionActive
		}
	}

	if c.State() != Connected {
		if err := c.connect(ctx); err != nil {
			c.log.Error("failed to connect to gpsd", zap.Error(err))
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.readLoop(runCtx)
	}()

	c.log.Info("started gps streaming")
	return nil
}

// StopStreaming stops the read loop, waiting at most the stop grace period,
// then closes the socket. It is safe to call at any time.
func (c *Client) StopStreaming() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	cancel, done := c.cancel, c.done
	c.cancel = nil

	if cancel != nil {
		cancel()
		t := time.NewTimer(c.stopGrace)
		select {
		case <-done:
		case <-t.C:
			c.log.Warn("gps read loop did not stop in time, closing socket", zap.Duration("grace", c.stopGrace))
		}
		t.Stop()
	}

	c.Disconnect()

	if cancel != nil {
		c.log.Info("stopped gps streaming")
	}
}

// Streaming reports whether a session is active.
func (c *Client) Streaming() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Close stops streaming and drops every subscription.
func (c *Client) Close() {
	c.StopStreaming()
	c.subs.closeAll()
}

// Subscribe registers fn for reports of type t. fn runs on a goroutine owned by
// the subscription, once per report, in wire order. Reports wait in an
// unbounded per-subscription backlog while fn is busy, so a slow fn delays
// only itself and misses nothing.
func (c *Client) Subscribe(t gps.ReportType, fn func(gps.Report)) *Subscription {
	if fn == nil {
		panic("gpsd: nil subscriber callback")
	}
	return c.subs.add(t, fn)
}

func (c *Client) OnPosition(fn func(gps.Position)) *Subscription {
	return c.Subscribe(gps.TypePosition, func(r gps.Report) { fn(r.(gps.Position)) })
}

func (c *Client) OnVelocity(fn func(gps.Velocity)) *Subscription {
	return c.Subscribe(gps.TypeVelocity, func(r gps.Report) { fn(r.(gps.Velocity)) })
}

func (c *Client) OnQuality(fn func(gps.Quality)) *Subscription {
	return c.Subscribe(gps.TypeQuality, func(r gps.Report) { fn(r.(gps.Quality)) })
}

// Latest returns a copy of the most recent report of type t.
func (c *Client) Latest(t gps.ReportType) (gps.Report, bool) {
	return c.cache.latest(t)
}

func (c *Client) LatestPosition() (gps.Position, bool) {
	r, ok := c.cache.latest(gps.TypePosition)
	if !ok {
		return gps.Position{}, false
	}
	return r.(gps.Position), true
}

func (c *Client) LatestVelocity() (gps.Velocity, bool) {
	r, ok := c.cache.latest(gps.TypeVelocity)
	if !ok {
		return gps.Velocity{}, false
	}
	return r.(gps.Velocity), true
}

func (c *Client) LatestQuality() (gps.Quality, bool) {
	r, ok := c.cache.latest(gps.TypeQuality)
	if !ok {
		return gps.Quality{}, false
	}
	return r.(gps.Quality), true
}

// LastUpdate is when the cached report of type t was received. Zero if never.
// Entries never expire; callers apply their own staleness policy.
func (c *Client) LastUpdate(t gps.ReportType) time.Time {
	return c.cache.updatedAt(t)
}

func (c *Client) readLoop(ctx context.Context) {
	buf := lineBuffer{max: c.maxLineBytes}
	p := make([]byte, defaultReadSize)
	var last net.Conn

	for {
		if ctx.Err() != nil {
			return
		}

		conn := c.currentConn()
		if conn == nil {
			// Disconnect was called while streaming.
			c.log.Warn("no gpsd socket in read loop")
			if !sleepCtx(ctx, c.idleDelay) {
				return
			}
			if !c.redial(ctx) {
				return
			}
			continue
		}
		if conn != last {
			buf.reset()
			last = conn
		}

		n, err := c.read(conn, p)
		if n > 0 {
			if dropped := buf.feed(p[:n], c.handleLine); dropped > 0 {
				c.log.Warn("discarding oversized gpsd line", zap.Int("bytes", dropped))
			}
		}
		if err == nil && n == 0 {
			err = io.EOF
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if ctx.Err() != nil {
			// Socket was force-closed by StopStreaming.
			return
		}
		if c.currentConn() != conn {
			// Connect or Disconnect replaced the socket under us.
			continue
		}

		if errors.Is(err, io.EOF) {
			c.log.Warn("no data from gpsd, reconnecting")
		} else {
			c.log.Warn("gpsd socket read error", zap.Error(err))
		}
		if !c.reconnect(ctx, conn) {
			return
		}
	}
}

// read does one bounded read. A failure to arm the deadline is a read error.
func (c *Client) read(conn net.Conn, p []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return conn.Read(p)
}

// reconnect drops the failed socket and runs the two-tier backoff until a
// socket is open again. It returns false once ctx is done.
func (c *Client) reconnect(ctx context.Context, failed net.Conn) bool {
	c.closeIfCurrent(failed)
	c.metrics.reconnect()

	if !sleepCtx(ctx, c.shortDelay) {
		return false
	}
	return c.redial(ctx)
}

// redial connects, sleeping the long delay after every failed attempt. It
// returns true as soon as a socket is open, including one opened by Connect.
func (c *Client) redial(ctx context.Context) bool {
	for {
		if c.currentConn() != nil {
			return true
		}
		err := c.connect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.log.Warn("gpsd reconnect failed", zap.Error(err), zap.Duration("retry_in", c.longDelay))
		if !sleepCtx(ctx, c.longDelay) {
			return false
		}
	}
}

func (c *Client) handleLine(line []byte) {
	c.metrics.line()

	reports, err := DecodeLine(line)
	if err != nil {
		c.metrics.decodeError()
		c.log.Debug("failed to parse gps message", zap.ByteString("line", line), zap.Error(err))
	}

	now := time.Now().UTC()
	for _, r := range reports {
		c.cache.store(r, now)
		c.metrics.report(r.Type())
		c.subs.publish(r)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
