// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"strings"
)

// Summary renders the latest values as a multi-line status text.
// Any argument may be nil.
func Summary(pos *Position, vel *Velocity, q *Quality) string {
	if pos == nil {
		return "GPS: No fix available"
	}

	parts := []string{
		fmt.Sprintf("GPS Location: %.6f°, %.6f°", pos.Lat, pos.Lon),
	}
	if pos.Alt != nil {
		parts = append(parts, fmt.Sprintf("Altitude: %.1fm", *pos.Alt))
	}
	if vel != nil {
		parts = append(parts,
			fmt.Sprintf("Speed: %.1f m/s (%.1f km/h)", vel.SpeedMPS, vel.SpeedMPS*3.6),
			fmt.Sprintf("Heading: %.1f°", vel.TrackDeg),
		)
	}
	if q != nil {
		parts = append(parts, fmt.Sprintf("Satellites: %d/%d", q.SatellitesUsed, q.SatellitesVisible))
		if q.HDOP != nil {
			parts = append(parts, fmt.Sprintf("HDOP: %.1f", *q.HDOP))
		}
	}
	return strings.Join(parts, "\n")
}

// RateHDOP maps a horizontal DOP to a coarse label.
func RateHDOP(hdop float64) string {
	switch {
	case hdop < 2:
		return "Excellent"
	case hdop < 5:
		return "Good"
	case hdop < 10:
		return "Moderate"
	case hdop < 20:
		return "Fair"
	default:
		return "Poor"
	}
}
