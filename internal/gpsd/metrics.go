// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

// Metrics exposes client counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	lines           prometheus.Counter
	reports         *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	reconnects      prometheus.Counter
	slowSubscribers *prometheus.CounterVec
	connected       prometheus.Gauge
}

// NewMetrics registers the client collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lines: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "lines_total",
			Help:      "Complete lines read from gpsd",
		}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "reports_total",
			Help:      "Reports decoded from gpsd, by type",
		}, []string{"type"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "decode_errors_total",
			Help:      "Lines or derived reports dropped while decoding",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "reconnects_total",
			Help:      "Reconnect sequences started after a read failure",
		}),
		slowSubscribers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "slow_subscribers_total",
			Help:      "Times a subscriber backlog grew past the warning threshold",
		}, []string{"type"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gps",
			Subsystem: "gpsd",
			Name:      "connected",
			Help:      "1 while a gpsd socket is open",
		}),
	}
}

func (m *Metrics) line() {
	if m != nil {
		m.lines.Inc()
	}
}

func (m *Metrics) report(t gps.ReportType) {
	if m != nil {
		m.reports.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) slowSubscriber(t gps.ReportType) {
	if m != nil {
		m.slowSubscribers.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
