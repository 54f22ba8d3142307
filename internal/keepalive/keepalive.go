// Package keepalive tracks per-connection idle-ping cadence. The interval
// is fixed by default and can be adapted from an RTT estimate by the
// caller via SetInterval.
package keepalive

import (
	"sync"
	"time"
)

// Scheduler decides when a connection has been idle long enough to need
// a keep-alive ping.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	lastSend time.Time
}

// NewScheduler returns a scheduler with the given initial interval,
// considering the connection freshly active as of now.
func NewScheduler(initial time.Duration, now time.Time) *Scheduler {
	return &Scheduler{interval: initial, lastSend: now}
}

// Due reports whether now-lastSend has reached the current interval.
func (s *Scheduler) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSend) >= s.interval
}

// MarkSent resets the idle clock, whether the send was a ping or any
// other outbound traffic.
func (s *Scheduler) MarkSent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSend = now
}

// SetInterval adapts the cadence, typically from an RTT estimate.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Interval returns the current cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NextDeadline returns the absolute time at which the next ping is due.
func (s *Scheduler) NextDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSend.Add(s.interval)
}
