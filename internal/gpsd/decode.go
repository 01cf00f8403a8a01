// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

const (
	classTPV = "TPV"
	classSKY = "SKY"
)

type gpsdSat struct {
	Used bool `json:"used"`
}

// DecodeLine turns one gpsd line into zero, one or two reports.
//
// The returned error is diagnostic: it explains why the line, or one report
// derived from it, was dropped. Reports that decoded cleanly are returned even
// when err is non-nil. Classes other than TPV and SKY yield nothing.
func DecodeLine(line []byte) ([]gps.Report, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var class string
	if raw, ok := obj["class"]; ok {
		if err := json.Unmarshal(raw, &class); err != nil {
			return nil, nil
		}
	}

	switch class {
	case classTPV:
		return decodeTPV(obj)
	case classSKY:
		return decodeSKY(obj)
	default:
		// VERSION, DEVICES, WATCH, GST, ...
		return nil, nil
	}
}

func decodeTPV(obj map[string]json.RawMessage) ([]gps.Report, error) {
	mode, _, err := number(obj, "mode")
	if err != nil {
		return nil, &DecodeError{Class: classTPV, Field: "mode", Err: err}
	}
	// 0/1: no fix, 2: 2D, 3: 3D.
	if mode < 2 {
		return nil, nil
	}

	var (
		out  []gps.Report
		errs []error
	)

	if pos, ok, err := tpvPosition(obj, mode); err != nil {
		errs = append(errs, err)
	} else if ok {
		out = append(out, pos)
	}

	if vel, ok, err := tpvVelocity(obj); err != nil {
		errs = append(errs, err)
	} else if ok {
		out = append(out, vel)
	}

	return out, errors.Join(errs...)
}

func tpvPosition(obj map[string]json.RawMessage, mode float64) (gps.Position, bool, error) {
	lat, latOK, err := number(obj, "lat")
	if err != nil {
		return gps.Position{}, false, &DecodeError{Class: classTPV, Field: "lat", Err: err}
	}
	lon, lonOK, err := number(obj, "lon")
	if err != nil {
		return gps.Position{}, false, &DecodeError{Class: classTPV, Field: "lon", Err: err}
	}
	if !latOK || !lonOK {
		return gps.Position{}, false, nil
	}

	pos := gps.Position{Lat: lat, Lon: lon}
	if mode >= 3 {
		alt, altOK, err := number(obj, "alt")
		if err != nil {
			return gps.Position{}, false, &DecodeError{Class: classTPV, Field: "alt", Err: err}
		}
		if altOK {
			pos.Alt = &alt
		}
	}
	return pos, true, nil
}

func tpvVelocity(obj map[string]json.RawMessage) (gps.Velocity, bool, error) {
	var (
		v    gps.Velocity
		seen bool
	)
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"speed", &v.SpeedMPS},
		{"track", &v.TrackDeg},
		{"climb", &v.ClimbMPS},
	} {
		val, ok, err := number(obj, f.name)
		if err != nil {
			return gps.Velocity{}, false, &DecodeError{Class: classTPV, Field: f.name, Err: err}
		}
		if ok {
			*f.dst = val
			seen = true
		}
	}
	return v, seen, nil
}

func decodeSKY(obj map[string]json.RawMessage) ([]gps.Report, error) {
	var q gps.Quality

	if raw, ok := obj["satellites"]; ok && !isNull(raw) {
		var sats []gpsdSat
		if err := json.Unmarshal(raw, &sats); err != nil {
			return nil, &DecodeError{Class: classSKY, Field: "satellites", Err: err}
		}
		q.SatellitesVisible = len(sats)
		for _, s := range sats {
			if s.Used {
				q.SatellitesUsed++
			}
		}
	}

	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"hdop", &q.HDOP},
		{"vdop", &q.VDOP},
		{"pdop", &q.PDOP},
	} {
		val, ok, err := number(obj, f.name)
		if err != nil {
			return nil, &DecodeError{Class: classSKY, Field: f.name, Err: err}
		}
		if ok {
			*f.dst = &val
		}
	}

	return []gps.Report{q}, nil
}

// number reads an optional numeric field. Missing and null are "not present".
func number(obj map[string]json.RawMessage, key string) (float64, bool, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return 0, false, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
