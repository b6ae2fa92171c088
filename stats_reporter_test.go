package main

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStreamStats_SnapshotInactiveReturnsZeroReport(t *testing.T) {
	s := newStreamStats()
	rep := s.snapshot("rx")
	if rep.Active {
		t.Error("expected Active=false before attach")
	}
	if rep.Worker != "rx" {
		t.Errorf("Worker = %q, want %q", rep.Worker, "rx")
	}
}

func TestStreamStats_AttachSnapshotDetach(t *testing.T) {
	s := newStreamStats()

	var period, duration timeStats
	period.reset()
	duration.reset()
	period.start()
	duration.start()
	time.Sleep(time.Millisecond)
	period.update()
	duration.update()

	var overflow, dropped, outoforder atomic.Uint64
	overflow.Store(3)
	dropped.Store(2)
	outoforder.Store(1)

	s.attach(&period, &duration, &overflow, &dropped, &outoforder)

	rep := s.snapshot("tx")
	if !rep.Active {
		t.Fatal("expected Active=true after attach")
	}
	if rep.Overflow != 3 || rep.Dropped != 2 || rep.OutOfOrder != 1 {
		t.Errorf("counters = overflow=%d dropped=%d outoforder=%d, want 3/2/1", rep.Overflow, rep.Dropped, rep.OutOfOrder)
	}
	if rep.PeriodAvg == 0 {
		t.Error("expected nonzero period average")
	}

	// snapshot must reset the atomic counters (read-then-reset contract).
	if overflow.Load() != 0 || dropped.Load() != 0 || outoforder.Load() != 0 {
		t.Error("snapshot did not reset the underlying counters")
	}

	s.detach()
	rep2 := s.snapshot("tx")
	if rep2.Active {
		t.Error("expected Active=false after detach")
	}
}

func TestStreamStats_SnapshotNilCountersForRX(t *testing.T) {
	s := newStreamStats()
	var period, duration timeStats
	period.reset()
	duration.reset()

	var overflow atomic.Uint64
	s.attach(&period, &duration, &overflow, nil, nil) // RX has no dropped/outoforder

	rep := s.snapshot("rx")
	if rep.Dropped != 0 || rep.OutOfOrder != 0 {
		t.Errorf("expected zero dropped/outoforder when nil, got %d/%d", rep.Dropped, rep.OutOfOrder)
	}
}

func TestStatsReporter_TickSkipsInactiveRoles(t *testing.T) {
	rx := newStreamStats()
	tx := newStreamStats()
	r := newStatsReporter(newComponentLogger("stats-test"), time.Second, rx, tx)

	// Neither role attached: tick must not panic and must not touch any
	// of the nil-able sinks.
	r.tick()
}

func TestStatsReporter_RunStopsOnCancel(t *testing.T) {
	rx := newStreamStats()
	tx := newStreamStats()
	r := newStatsReporter(newComponentLogger("stats-test"), 10*time.Millisecond, rx, tx)

	cancel := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.run(cancel)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond) // let a tick or two fire
	close(cancel)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
