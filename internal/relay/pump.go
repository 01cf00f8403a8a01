// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Pump reads NMEA sentences from r, converts them and hands every resulting
// gpsd line to emit. It returns nil at EOF or when ctx is cancelled between
// sentences; unparsable sentences are skipped.
func Pump(ctx context.Context, r io.Reader, conv *Converter, emit func([]byte), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lines, err := conv.Feed(scanner.Text())
		if err != nil {
			// noisy receivers emit partial sentences at power-up
			log.Debug("skipping nmea sentence", zap.String("raw", scanner.Text()), zap.Error(err))
			continue
		}
		for _, line := range lines {
			emit(line)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("nmea read: %w", err)
	}
	return nil
}
