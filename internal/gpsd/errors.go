// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect matches every *ConnectError via errors.Is.
	ErrConnect = errors.New("gpsd connect failed")

	// ErrSessionActive is returned by StartStreaming when the read loop of a
	// previous session did not exit within the stop grace period.
	ErrSessionActive = errors.New("gpsd: previous streaming session still active")
)

// ConnectError reports a failed dial or WATCH handshake.
type ConnectError struct {
	Addr string
	Op   string // "dial" or "watch"
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gpsd %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// DecodeError describes a line, or a single derived report, that was dropped.
// It is diagnostic only.
type DecodeError struct {
	Class string // empty when the line is not a JSON object
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("gpsd json parse failed: %v", e.Err)
	}
	return fmt.Sprintf("gpsd %s field %q: %v", e.Class, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
