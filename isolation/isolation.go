//go:build linux

// Package isolation pins the sampling thread to one CPU and raises it
// to the top real-time FIFO priority.
package isolation

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Scheduling environment acquired for the rest of the process life.
// There is no release - the settings go away with the process.
type Guard struct {
	CPU      int
	Priority int
}

// Function substitutions for unit tests
var (
	lockThreadF   = runtime.LockOSThread
	setAffinityF  = unix.SchedSetaffinity
	maxPriorityF  = fifoMaxPriority
	setSchedAttrF = unix.SchedSetAttr
)

// Locks the calling goroutine to its OS thread, restricts the thread to `cpu`
// and switches it to SCHED_FIFO with the highest priority.
//
// The CPU index is not checked against the number of processors; an invalid
// index is reported by the kernel.
func Acquire(cpu int) (*Guard, error) {
	lockThreadF()

	var set unix.CPUSet
	set.Zero()
	if cpu >= 0 {
		set.Set(cpu)
	}
	if err := setAffinityF(0, &set); err != nil {
		return nil, fmt.Errorf("failed to set processor affinity to CPU %d: %w", cpu, err)
	}

	prio, err := maxPriorityF()
	if err != nil {
		return nil, fmt.Errorf("failed to query FIFO priority range: %w", err)
	}

	attr := unix.SchedAttr{Policy: unix.SCHED_FIFO, Priority: uint32(prio)}
	if err := setSchedAttrF(0, &attr, 0); err != nil {
		return nil, fmt.Errorf("failed to set scheduler priority %d: %w", prio, err)
	}

	return &Guard{CPU: cpu, Priority: prio}, nil
}

func fifoMaxPriority() (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_FIFO), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}
