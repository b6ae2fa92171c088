//go:build !linux

package main

import "fmt"

// Non-Linux hosts have no SCHED_RR/CPU-affinity equivalent exposed the
// same way; spec.md's Non-goals explicitly exclude portability beyond a
// POSIX-like host with this kind of control, so these just report
// failure for the (non-fatal) caller to log, the same outcome as a
// failed syscall on Linux.

func setThreadRealtimePriority() error {
	return fmt.Errorf("realtime scheduling not supported on this platform")
}

func setThreadAffinity(cpu int) error {
	return fmt.Errorf("CPU affinity not supported on this platform")
}
