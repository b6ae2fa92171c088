package main

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// timeStats accumulates min/max/avg/stddev over a running series of
// microsecond durations, directly modeled on the original
// UTILS_TimeStats_t accumulator (original_source/utils.c): reset, start,
// update, average. start/update both capture "now"; update folds the gap
// since the previous capture into the running totals, so a caller uses
// start() once to arm the timer and update() on every subsequent tick.
//
// Guarded by a mutex because the worker goroutine calls start()/update()
// while the stats reporter goroutine calls snapshotAndReset() on the same
// accumulator concurrently, each on its own timer.
type timeStats struct {
	mu sync.Mutex

	initialized bool
	lastTime    time.Time
	total       time.Duration
	count       uint32
	min         time.Duration
	max         time.Duration

	samples []float64 // retained only for the stddev computed in snapshotAndReset; bounded by reset
}

// timeStatsSnapshot is an immutable copy safe to hand to a reporter after
// the live accumulator has been reset.
type timeStatsSnapshot struct {
	count  uint32
	min    time.Duration
	max    time.Duration
	avg    time.Duration
	stddev float64
}

// reset zeros the accumulator and pre-sets min to its "no samples yet"
// sentinel, mirroring UTILS_ResetTimeStats setting min to UINT64_MAX.
func (s *timeStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *timeStats) resetLocked() {
	s.initialized = false
	s.lastTime = time.Time{}
	s.total = 0
	s.count = 0
	s.min = time.Duration(math.MaxInt64)
	s.max = 0
	s.samples = nil
}

// start arms the timer without folding anything into the running totals,
// used before a single operation whose duration will be measured by a
// matching update() call.
func (s *timeStats) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTime = time.Now()
	s.initialized = true
}

// update captures "now" and, if the accumulator was already armed, folds
// the gap since the last start()/update() into total/count/min/max, then
// rearms for the next interval.
func (s *timeStats) update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.initialized {
		diff := now.Sub(s.lastTime)
		s.total += diff
		s.count++
		if diff < s.min {
			s.min = diff
		}
		if diff > s.max {
			s.max = diff
		}
		s.samples = append(s.samples, float64(diff.Microseconds()))
	}
	s.lastTime = now
	s.initialized = true
}

// snapshotAndReset returns the accumulated stats and rearms the
// accumulator empty, the "emit then reset" behavior the stats reporter
// runs on each periodic tick (spec §4.6).
func (s *timeStats) snapshotAndReset() timeStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := timeStatsSnapshot{count: s.count}
	if s.count > 0 {
		snap.min = s.min
		snap.max = s.max
		snap.avg = s.total / time.Duration(s.count)
	}
	if len(s.samples) >= 2 {
		_, sd := stat.MeanStdDev(s.samples, nil)
		snap.stddev = sd
	}
	s.resetLocked()
	return snap
}

func (snap timeStatsSnapshot) minMicros() uint64 { return uint64(snap.min.Microseconds()) }
func (snap timeStatsSnapshot) maxMicros() uint64 { return uint64(snap.max.Microseconds()) }
func (snap timeStatsSnapshot) avgMicros() uint64 { return uint64(snap.avg.Microseconds()) }
