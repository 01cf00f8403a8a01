// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import "bytes"

// lineBuffer accumulates raw socket bytes and splits them on '\n'.
// A trailing partial line is kept until the rest of it arrives.
type lineBuffer struct {
	buf []byte
	max int // 0 = unbounded
}

// feed appends p and calls fn for every complete, non-blank line, in order.
// The slice passed to fn is only valid for the duration of the call.
//
// If the retained partial line grows beyond max it is discarded and its
// length is returned.
func (b *lineBuffer) feed(p []byte, fn func(line []byte)) (dropped int) {
	b.buf = append(b.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(b.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(b.buf[start : start+i])
		start += i + 1
		if len(line) > 0 {
			fn(line)
		}
	}

	n := copy(b.buf, b.buf[start:])
	b.buf = b.buf[:n]

	if b.max > 0 && len(b.buf) > b.max {
		dropped = len(b.buf)
		b.buf = b.buf[:0]
	}
	return dropped
}

func (b *lineBuffer) reset() {
	b.buf = b.buf[:0]
}

func (b *lineBuffer) pending() int {
	return len(b.buf)
}
