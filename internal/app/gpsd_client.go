// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
	"github.com/relabs-tech/gps_streamer/internal/logging"
)

// newGPSDClient builds the streaming client every binary shares from cfg.
func newGPSDClient(cfg *config.Config, log *zap.Logger, m *gpsd.Metrics) *gpsd.Client {
	return gpsd.NewClient(
		gpsd.Endpoint{
			Host:    cfg.GPSDHost,
			Port:    cfg.GPSDPort,
			Timeout: cfg.GPSDTimeout,
		},
		gpsd.WithLogger(log),
		gpsd.WithMetrics(m),
		gpsd.WithReadTimeout(cfg.GPSDReadTimeout),
		gpsd.WithReconnectDelays(cfg.GPSDReconnectShort, cfg.GPSDReconnectLong),
	)
}

// NewLogger builds the process logger from the LOG_LEVEL and LOG_FORMAT keys.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}
