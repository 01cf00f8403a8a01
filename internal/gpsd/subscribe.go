// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gpsd

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

// defaultBacklogWarn is the per-subscriber backlog that triggers a warning.
const defaultBacklogWarn = 64

// Subscription is a registered callback. Each subscription has its own FIFO
// backlog and goroutine, so a slow callback only delays itself. The backlog
// grows as needed: every report published while subscribed is delivered.
type Subscription struct {
	reg *registry
	typ gps.ReportType
	fn  func(gps.Report)

	mu      sync.Mutex
	pending []gps.Report
	stopped bool
	warned  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Type returns the report type this subscription receives.
func (s *Subscription) Type() gps.ReportType { return s.typ }

// Unsubscribe stops delivery. Reports still queued are discarded; a callback
// already running is allowed to finish. Safe to call more than once and from
// inside the callback itself.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.reg.remove(s)
		s.mu.Lock()
		s.stopped = true
		s.pending = nil
		s.mu.Unlock()
		s.signal()
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Backlog is the number of reports waiting for the callback.
func (s *Subscription) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueue appends r to the backlog and reports the new backlog length. It
// returns 0 once the subscription is stopped.
func (s *Subscription) enqueue(r gps.Report) int {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	s.pending = append(s.pending, r)
	n := len(s.pending)
	s.mu.Unlock()
	s.signal()
	return n
}

// next blocks until a report is queued or the subscription stops.
func (s *Subscription) next() (gps.Report, bool) {
	s.mu.Lock()
	for len(s.pending) == 0 && !s.stopped {
		s.mu.Unlock()
		<-s.wake
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	r := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	if len(s.pending) == 0 {
		s.pending = nil
		s.warned = false
	}
	return r, true
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		r, ok := s.next()
		if !ok {
			return
		}
		s.invoke(r)
	}
}

func (s *Subscription) invoke(r gps.Report) {
	defer func() {
		if p := recover(); p != nil {
			s.reg.log.Error("gps subscriber panicked",
				zap.Stringer("type", s.typ),
				zap.Any("panic", p),
			)
		}
	}()
	s.fn(r)
}

// registry fans reports out to subscribers, grouped by report type.
type registry struct {
	log         *zap.Logger
	metrics     *Metrics
	backlogWarn int

	mu   sync.RWMutex
	subs map[gps.ReportType][]*Subscription
}

func newRegistry(log *zap.Logger, m *Metrics, backlogWarn int) *registry {
	if backlogWarn <= 0 {
		backlogWarn = defaultBacklogWarn
	}
	return &registry{
		log:         log,
		metrics:     m,
		backlogWarn: backlogWarn,
		subs:        make(map[gps.ReportType][]*Subscription),
	}
}

func (r *registry) add(t gps.ReportType, fn func(gps.Report)) *Subscription {
	s := &Subscription{
		reg:  r,
		typ:  t,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()

	r.mu.Lock()
	r.subs[t] = append(r.subs[t], s)
	r.mu.Unlock()
	return s
}

func (r *registry) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.subs[s.typ]
	next := make([]*Subscription, 0, len(cur))
	for _, o := range cur {
		if o != s {
			next = append(next, o)
		}
	}
	r.subs[s.typ] = next
}

// publish appends a copy of rep to the backlog of every subscriber of its
// type, in registration order. It never blocks and never drops.
func (r *registry) publish(rep gps.Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs[rep.Type()] {
		n := s.enqueue(gps.Clone(rep))
		if n > r.backlogWarn {
			r.slowSubscriber(s, n)
		}
	}
}

// slowSubscriber records a backlog that crossed the warning threshold, once
// per episode; the episode ends when the backlog drains.
func (r *registry) slowSubscriber(s *Subscription, n int) {
	s.mu.Lock()
	first := !s.warned
	s.warned = true
	s.mu.Unlock()
	if !first {
		return
	}
	r.metrics.slowSubscriber(s.typ)
	r.log.Warn("gps subscriber falling behind",
		zap.Stringer("type", s.typ),
		zap.Int("backlog", n),
	)
}

func (r *registry) count(t gps.ReportType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[t])
}

func (r *registry) closeAll() {
	r.mu.RLock()
	var all []*Subscription
	for _, list := range r.subs {
		all = append(all, list...)
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Unsubscribe()
	}
}
