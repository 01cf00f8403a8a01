// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_NoFix(t *testing.T) {
	assert.Equal(t, "GPS: No fix available", Summary(nil, &Velocity{SpeedMPS: 3}, nil))
}

func TestSummary_AllParts(t *testing.T) {
	pos := &Position{Lat: 37.5, Lon: -122.3, Alt: Float(10)}
	vel := &Velocity{SpeedMPS: 2, TrackDeg: 90}
	q := &Quality{SatellitesVisible: 9, SatellitesUsed: 7, HDOP: Float(1.25)}

	want := "GPS Location: 37.500000°, -122.300000°\n" +
		"Altitude: 10.0m\n" +
		"Speed: 2.0 m/s (7.2 km/h)\n" +
		"Heading: 90.0°\n" +
		"Satellites: 7/9\n" +
		"HDOP: 1.2"
	assert.Equal(t, want, Summary(pos, vel, q))
}

func TestSummary_OmitsMissingAltitudeAndHDOP(t *testing.T) {
	got := Summary(&Position{Lat: 1, Lon: 2}, nil, &Quality{SatellitesVisible: 3})
	assert.NotContains(t, got, "Altitude")
	assert.NotContains(t, got, "HDOP")
	assert.Contains(t, got, "Satellites: 0/3")
}

func TestRateHDOP(t *testing.T) {
	cases := map[float64]string{
		0.8:  "Excellent",
		2:    "Good",
		4.99: "Good",
		5:    "Moderate",
		12:   "Fair",
		20:   "Poor",
		99:   "Poor",
	}
	for hdop, want := range cases {
		assert.Equal(t, want, RateHDOP(hdop), "hdop=%v", hdop)
	}
}

func TestClone_DoesNotShareOptionalFields(t *testing.T) {
	p := Position{Lat: 1, Lon: 2, Alt: Float(3)}
	c := Clone(p).(Position)
	require.NotNil(t, c.Alt)
	*c.Alt = 99
	assert.Equal(t, 3.0, *p.Alt)

	q := Quality{HDOP: Float(1)}
	qc := q.Clone()
	*qc.HDOP = 5
	assert.Equal(t, 1.0, *q.HDOP)
	assert.Nil(t, qc.VDOP)
}
