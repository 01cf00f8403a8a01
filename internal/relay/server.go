// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	versionLine  = `{"class":"VERSION","release":"gps_streamer-relay","rev":"1","proto_major":3,"proto_minor":14}` + "\n"
	devicesLine  = `{"class":"DEVICES","devices":[]}` + "\n"
	writeTimeout = 2 * time.Second
	sessionQueue = 128
)

// Server speaks enough of the gpsd protocol for watch-mode JSON clients:
// it greets with VERSION, answers ?WATCH and ?VERSION, and pushes every
// broadcast line to the sessions that enabled watching.
type Server struct {
	log *zap.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

type session struct {
	conn     net.Conn
	out      chan []byte
	watching atomic.Bool
	closed   bool // guarded by Server.mu
}

// NewServer returns a Server with no sessions. A nil logger disables logging.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log.Named("relay"),
		sessions: make(map[*session]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts gpsd clients on ln until ctx is cancelled. It closes ln and
// every open session before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("relay listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.closeAll()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("relay accept: %w", err)
		}
		go s.handle(conn)
	}
}

// Broadcast queues line for every watching session. A session whose queue is
// full misses the line.
func (s *Server) Broadcast(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sess := range s.sessions {
		if !sess.watching.Load() {
			continue
		}
		select {
		case sess.out <- line:
		default:
			s.log.Debug("relay client too slow, line dropped",
				zap.String("remote", sess.conn.RemoteAddr().String()))
		}
	}
}

// Clients returns the number of connected sessions.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handle(conn net.Conn) {
	sess := &session{conn: conn, out: make(chan []byte, sessionQueue)}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	remote := conn.RemoteAddr().String()
	s.log.Info("relay client connected", zap.String("remote", remote))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(sess)
	}()

	sess.out <- []byte(versionLine)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, reply := range s.command(sess, line) {
			sess.out <- reply
		}
	}

	s.remove(sess)
	<-done
	_ = conn.Close()
	s.log.Info("relay client disconnected", zap.String("remote", remote))
}

func (s *Server) writeLoop(sess *session) {
	for line := range sess.out {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := sess.conn.Write(line); err != nil {
			s.log.Debug("relay write failed", zap.Error(err))
			_ = sess.conn.Close()
			for range sess.out {
			}
			return
		}
	}
}

// command answers one client request line.
func (s *Server) command(sess *session, line string) [][]byte {
	req, arg, _ := strings.Cut(strings.TrimSuffix(line, ";"), "=")

	switch req {
	case "?WATCH":
		enable := true
		if arg != "" {
			var w struct {
				Enable *bool `json:"enable"`
			}
			if err := json.Unmarshal([]byte(arg), &w); err != nil {
				return [][]byte{errorLine("Invalid WATCH: " + err.Error())}
			}
			if w.Enable != nil {
				enable = *w.Enable
			}
		}
		sess.watching.Store(enable)
		watch, _ := encode(map[string]any{"class": "WATCH", "enable": enable, "json": enable})
		return [][]byte{[]byte(devicesLine), watch}
	case "?VERSION":
		return [][]byte{[]byte(versionLine)}
	default:
		return [][]byte{errorLine(fmt.Sprintf("Unrecognized request '%s'", req))}
	}
}

func errorLine(msg string) []byte {
	b, _ := encode(map[string]string{"class": "ERROR", "message": msg})
	return b
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	delete(s.sessions, sess)
	close(sess.out)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
}
