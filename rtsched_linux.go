//go:build linux

package main

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedRR is SCHED_RR from <sched.h>; the original gadget requests
// SCHED_RR at the maximum available priority for its worker threads
// (original_source/utils.c: UTILS_SetThreadRealtimePriority).
const schedRR = 2

// schedParam mirrors struct sched_param from <sched.h>: a single int
// field, sched_priority.
type schedParam struct {
	priority int32
}

// setThreadRealtimePriority requests SCHED_RR at the policy's maximum
// priority for the calling OS thread. Callers must have already pinned
// the calling goroutine to its OS thread with runtime.LockOSThread, since
// scheduling policy is a per-thread, not per-process, attribute on Linux.
func setThreadRealtimePriority() error {
	maxPrio, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(schedRR), 0, 0)
	if errno != 0 {
		return fmt.Errorf("sched_get_priority_max(SCHED_RR): %w", errno)
	}
	param := schedParam{priority: int32(maxPrio)}
	// pid 0 means "the calling thread" for sched_setscheduler, matching
	// pthread_setschedparam(pthread_self(), ...) in the original source.
	_, _, errno = unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(schedRR), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("sched_setscheduler(SCHED_RR, %d): %w", maxPrio, errno)
	}
	return nil
}

// setThreadAffinity pins the calling OS thread to a single CPU, the
// direct analogue of pthread_setaffinity_np in the original source.
func setThreadAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 again means "the calling thread".
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(cpu=%d): %w", cpu, err)
	}
	return nil
}
