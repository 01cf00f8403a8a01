// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package relay turns a raw NMEA receiver into a gpsd-compatible JSON feed.
package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

const knotsToMPS = 0.514444

// TPV is the subset of a gpsd TPV object the converter fills in.
type TPV struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Time  string   `json:"time,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
	Alt   *float64 `json:"alt,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
	Track *float64 `json:"track,omitempty"`
}

// SKY is the subset of a gpsd SKY object the converter fills in.
type SKY struct {
	Class      string      `json:"class"`
	HDOP       *float64    `json:"hdop,omitempty"`
	VDOP       *float64    `json:"vdop,omitempty"`
	PDOP       *float64    `json:"pdop,omitempty"`
	Satellites []Satellite `json:"satellites"`
}

// Satellite is one entry of a SKY satellites array.
type Satellite struct {
	PRN  int64 `json:"PRN"`
	El   int64 `json:"el"`
	Az   int64 `json:"az"`
	SS   int64 `json:"ss"`
	Used bool  `json:"used"`
}

// Converter accumulates NMEA sentences of one receiver and emits gpsd lines.
// RMC closes a TPV; the last GSV message of a cycle closes a SKY. GGA and GSA
// only update state. Not safe for concurrent use.
type Converter struct {
	mode    int // from GSA; 0 until seen
	alt     *float64
	hdop    *float64
	vdop    *float64
	pdop    *float64
	used    map[int64]bool
	gsaSeen bool // a GSA arrived since the last RMC

	pending map[string][]Satellite // GSV cycle in progress per talker
	sky     map[string][]Satellite // last complete GSV cycle per talker
}

// NewConverter returns an empty Converter.
func NewConverter() *Converter {
	return &Converter{
		used:    make(map[int64]bool),
		pending: make(map[string][]Satellite),
		sky:     make(map[string][]Satellite),
	}
}

// Feed parses one NMEA sentence and returns the gpsd JSON lines it completes,
// each terminated by '\n'. Sentences of other types are ignored.
func (c *Converter) Feed(raw string) ([][]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "$") {
		return nil, nil
	}

	sentence, err := nmea.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("nmea parse: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		return c.rmc(sentence.(nmea.RMC))
	case nmea.TypeGGA:
		c.gga(sentence.(nmea.GGA))
	case nmea.TypeGSA:
		c.gsa(sentence.(nmea.GSA))
	case nmea.TypeGSV:
		return c.gsv(sentence.TalkerID(), sentence.(nmea.GSV))
	}
	return nil, nil
}

func (c *Converter) rmc(m nmea.RMC) ([][]byte, error) {
	c.gsaSeen = false

	tpv := TPV{Class: "TPV", Mode: 1}
	if m.Validity == nmea.ValidRMC {
		tpv.Mode = 2
		if c.mode > 0 {
			tpv.Mode = c.mode
		}
		tpv.Lat = float(m.Latitude)
		tpv.Lon = float(m.Longitude)
		tpv.Speed = float(m.Speed * knotsToMPS)
		tpv.Track = float(m.Course)
		if tpv.Mode >= 3 && c.alt != nil {
			tpv.Alt = float(*c.alt)
		}
	}
	if m.Date.Valid && m.Time.Valid {
		tpv.Time = fmt.Sprintf("20%02d-%02d-%02dT%02d:%02d:%02d.%03dZ",
			m.Date.YY, m.Date.MM, m.Date.DD, m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond)
	}

	line, err := encode(tpv)
	if err != nil {
		return nil, err
	}
	return [][]byte{line}, nil
}

func (c *Converter) gga(m nmea.GGA) {
	if m.FixQuality == nmea.Invalid {
		c.alt = nil
		return
	}
	c.alt = float(m.Altitude)
}

func (c *Converter) gsa(m nmea.GSA) {
	if !c.gsaSeen {
		clear(c.used)
		c.gsaSeen = true
	}
	switch m.FixType {
	case nmea.Fix2D:
		c.mode = 2
	case nmea.Fix3D:
		c.mode = 3
	default:
		c.mode = 1
	}
	for _, sv := range m.SV {
		if prn, err := strconv.ParseInt(strings.TrimSpace(sv), 10, 64); err == nil && prn > 0 {
			c.used[prn] = true
		}
	}
	c.hdop = float(m.HDOP)
	c.vdop = float(m.VDOP)
	c.pdop = float(m.PDOP)
}

func (c *Converter) gsv(talker string, m nmea.GSV) ([][]byte, error) {
	if m.MessageNumber == 1 {
		c.pending[talker] = c.pending[talker][:0]
	}
	for _, info := range m.Info {
		c.pending[talker] = append(c.pending[talker], Satellite{
			PRN: info.SVPRNNumber,
			El:  info.Elevation,
			Az:  info.Azimuth,
			SS:  info.SNR,
		})
	}
	if m.MessageNumber != m.TotalMessages {
		return nil, nil
	}

	c.sky[talker] = append([]Satellite(nil), c.pending[talker]...)
	delete(c.pending, talker)

	line, err := encode(c.skyReport())
	if err != nil {
		return nil, err
	}
	return [][]byte{line}, nil
}

func (c *Converter) skyReport() SKY {
	talkers := make([]string, 0, len(c.sky))
	for t := range c.sky {
		talkers = append(talkers, t)
	}
	sort.Strings(talkers)

	sky := SKY{Class: "SKY", HDOP: c.hdop, VDOP: c.vdop, PDOP: c.pdop, Satellites: []Satellite{}}
	for _, t := range talkers {
		for _, sat := range c.sky[t] {
			sat.Used = c.used[sat.PRN]
			sky.Satellites = append(sky.Satellites, sat)
		}
	}
	return sky
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode gpsd line: %w", err)
	}
	return append(b, '\n'), nil
}

func float(v float64) *float64 { return &v }
