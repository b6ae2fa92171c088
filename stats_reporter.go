package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// streamStats is the stats reporter's view onto whichever worker (RX or
// TX) is currently running for one role. Re-attached on every
// START_RX/START_TX so the reporter always reads the live worker's
// counters, and left detached (reporting zeroes) when no worker runs.
//
// Grounded on spec §4.6 "the stats reporter runs from a periodic timer
// registered with the worker's event loop" — here centralized in the
// supervisor instead of duplicated per worker, since both workers share
// one reporting cadence and one set of observability sinks.
type streamStats struct {
	mu sync.Mutex

	active     bool
	period     *timeStats
	duration   *timeStats
	overflow   *atomic.Uint64
	dropped    *atomic.Uint64 // TX only
	outoforder *atomic.Uint64 // TX only
}

func newStreamStats() *streamStats {
	return &streamStats{}
}

func (s *streamStats) attach(period, duration *timeStats, overflow, dropped, outoforder *atomic.Uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.period = period
	s.duration = duration
	s.overflow = overflow
	s.dropped = dropped
	s.outoforder = outoforder
}

func (s *streamStats) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s = streamStats{}
}

// streamReport is one periodic snapshot, consumed by the logger,
// Prometheus, MQTT, and the status WebSocket alike.
type streamReport struct {
	Worker      string  `json:"worker"`
	Active      bool    `json:"active"`
	PeriodMin   uint64  `json:"period_min_us"`
	PeriodMax   uint64  `json:"period_max_us"`
	PeriodAvg   uint64  `json:"period_avg_us"`
	PeriodStd   float64 `json:"period_stddev_us"`
	DurationMin uint64  `json:"duration_min_us"`
	DurationMax uint64  `json:"duration_max_us"`
	DurationAvg uint64  `json:"duration_avg_us"`
	DurationStd float64 `json:"duration_stddev_us"`
	Overflow    uint64  `json:"overflow"`
	Dropped     uint64  `json:"dropped"`
	OutOfOrder  uint64  `json:"outoforder"`
}

// snapshot reads and resets the underlying counters, per spec §4.6's
// "then resets" contract.
func (s *streamStats) snapshot(worker string) streamReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := streamReport{Worker: worker, Active: s.active}
	if !s.active {
		return r
	}

	periodSnap := s.period.snapshotAndReset()
	r.PeriodMin = periodSnap.minMicros()
	r.PeriodMax = periodSnap.maxMicros()
	r.PeriodAvg = periodSnap.avgMicros()
	r.PeriodStd = periodSnap.stddev

	durationSnap := s.duration.snapshotAndReset()
	r.DurationMin = durationSnap.minMicros()
	r.DurationMax = durationSnap.maxMicros()
	r.DurationAvg = durationSnap.avgMicros()
	r.DurationStd = durationSnap.stddev

	if s.overflow != nil {
		r.Overflow = s.overflow.Swap(0)
	}
	if s.dropped != nil {
		r.Dropped = s.dropped.Swap(0)
	}
	if s.outoforder != nil {
		r.OutOfOrder = s.outoforder.Swap(0)
	}
	return r
}

// statsReporter ticks every interval, pulling a snapshot from each role
// and fanning it out to whichever sinks are configured (log always; the
// rest per config).
type statsReporter struct {
	log      *componentLogger
	interval time.Duration

	rx *streamStats
	tx *streamStats

	metrics *prometheusMetrics // nil if disabled
	mqtt    *mqttPublisher     // nil if disabled
	status  *statusServer      // nil if disabled
}

func newStatsReporter(log *componentLogger, interval time.Duration, rx, tx *streamStats) *statsReporter {
	return &statsReporter{log: log, interval: interval, rx: rx, tx: tx}
}

// run blocks until cancel fires, emitting a report every interval.
func (r *statsReporter) run(cancel <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *statsReporter) tick() {
	for _, rep := range []streamReport{r.rx.snapshot("rx"), r.tx.snapshot("tx")} {
		if !rep.Active {
			continue
		}
		r.log.Printf("%s: period min=%dus max=%dus avg=%dus stddev=%.1fus duration min=%dus max=%dus avg=%dus stddev=%.1fus overflow=%d dropped=%d outoforder=%d",
			rep.Worker, rep.PeriodMin, rep.PeriodMax, rep.PeriodAvg, rep.PeriodStd,
			rep.DurationMin, rep.DurationMax, rep.DurationAvg, rep.DurationStd,
			rep.Overflow, rep.Dropped, rep.OutOfOrder)

		if r.metrics != nil {
			r.metrics.observe(rep)
		}
		if r.mqtt != nil {
			r.mqtt.publish(rep)
		}
		if r.status != nil {
			r.status.broadcast(rep)
		}
	}
}
