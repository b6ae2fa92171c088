package main

import "runtime"

// rtConfig is the per-worker slice of Config that governs real-time
// scheduling and CPU pinning, per spec §5 "Real-time properties":
// "Workers set their thread priority to the maximum for a round-robin
// real-time policy and pin themselves to a specific CPU... Failure to
// set either is logged and non-fatal."
type rtConfig struct {
	CPU              int // -1 disables pinning
	RealtimePriority bool
}

// apply locks the calling goroutine to its OS thread (a prerequisite on
// Linux, where scheduling policy and affinity are per-thread attributes)
// and best-effort applies SCHED_RR + CPU pinning, per SPEC_FULL.md §5.
func (rt rtConfig) apply(log *componentLogger) {
	runtime.LockOSThread()

	if rt.RealtimePriority {
		if err := setThreadRealtimePriority(); err != nil {
			log.Printf("could not set realtime priority (non-fatal): %v", err)
		}
	}
	if rt.CPU >= 0 {
		if err := setThreadAffinity(rt.CPU); err != nil {
			log.Printf("could not set CPU affinity to %d (non-fatal): %v", rt.CPU, err)
		}
	}
}
