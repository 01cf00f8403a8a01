// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// ReportType identifies one of the report kinds decoded from gpsd.
type ReportType int

const (
	TypePosition ReportType = iota
	TypeVelocity
	TypeQuality
)

// ReportTypes lists every report type in a stable order.
var ReportTypes = []ReportType{TypePosition, TypeVelocity, TypeQuality}

func (t ReportType) String() string {
	switch t {
	case TypePosition:
		return "position"
	case TypeVelocity:
		return "velocity"
	case TypeQuality:
		return "quality"
	default:
		return "unknown"
	}
}

// Report is implemented by Position, Velocity and Quality.
type Report interface {
	Type() ReportType
}

// Position is a 2D or 3D fix. Alt is nil unless the receiver has a 3D fix.
type Position struct {
	Lat float64  `json:"lat"` // decimal degrees
	Lon float64  `json:"lon"` // decimal degrees
	Alt *float64 `json:"alt,omitempty"`
}

func (Position) Type() ReportType { return TypePosition }

// Clone returns a copy that shares no memory with p.
func (p Position) Clone() Position {
	p.Alt = clonePtr(p.Alt)
	return p
}

// Velocity is the motion part of a TPV report. Fields missing on the wire are 0.
type Velocity struct {
	SpeedMPS float64 `json:"speed"` // m/s over ground
	TrackDeg float64 `json:"track"` // course over ground, degrees true
	ClimbMPS float64 `json:"climb"` // m/s, positive up
}

func (Velocity) Type() ReportType { return TypeVelocity }

func (v Velocity) Clone() Velocity { return v }

// Quality summarises a SKY report.
type Quality struct {
	SatellitesVisible int      `json:"satellites"`
	SatellitesUsed    int      `json:"satellites_used"`
	HDOP              *float64 `json:"hdop"`
	VDOP              *float64 `json:"vdop"`
	PDOP              *float64 `json:"pdop"`
}

func (Quality) Type() ReportType { return TypeQuality }

func (q Quality) Clone() Quality {
	q.HDOP = clonePtr(q.HDOP)
	q.VDOP = clonePtr(q.VDOP)
	q.PDOP = clonePtr(q.PDOP)
	return q
}

// Clone deep-copies any report value. Unknown implementations are returned as is.
func Clone(r Report) Report {
	switch v := r.(type) {
	case Position:
		return v.Clone()
	case Velocity:
		return v.Clone()
	case Quality:
		return v.Clone()
	default:
		return r
	}
}

// Float returns a pointer to v; handy for building optional fields.
func Float(v float64) *float64 { return &v }

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
