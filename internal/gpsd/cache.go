// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"sync"
	"time"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

type cacheSlot struct {
	report gps.Report
	at     time.Time
}

// cache holds the most recent report of each type. Slots are only ever
// overwritten, never cleared.
type cache struct {
	mu    sync.Mutex
	slots [3]cacheSlot
}

func (c *cache) store(r gps.Report, at time.Time) {
	i := int(r.Type())
	if i < 0 || i >= len(c.slots) {
		return
	}
	v := gps.Clone(r)

	c.mu.Lock()
	c.slots[i] = cacheSlot{report: v, at: at}
	c.mu.Unlock()
}

func (c *cache) latest(t gps.ReportType) (gps.Report, bool) {
	i := int(t)
	if i < 0 || i >= len(c.slots) {
		return nil, false
	}

	c.mu.Lock()
	r := c.slots[i].report
	c.mu.Unlock()

	if r == nil {
		return nil, false
	}
	return gps.Clone(r), true
}

func (c *cache) updatedAt(t gps.ReportType) time.Time {
	i := int(t)
	if i < 0 || i >= len(c.slots) {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[i].at
}
