//go:build amd64

// Package tickcount reads the processor time stamp counter.
package tickcount

import "math"

const (
	ovhdCnt = 10000
)

// Plain RDTSC; may execute ahead of preceding instructions.
func TickCount() uint64

// RDTSCP followed by LFENCE; waits for all prior instructions to retire.
func TickCountP() uint64

// Fills every element of `samples` with the cycles elapsed between two counter reads.
// Each iteration runs MFENCE; LFENCE; RDTSC; RDTSCP; LFENCE and stores the difference.
// The loop has no Go preemption points.
//
//go:noescape
func Fill(samples []uint64)

// Minimal number of cycles between two back-to-back reads.
// See https://community.intel.com/t5/Intel-ISA-Extensions/Measure-the-execution-time-using-RDTSC/td-p/1365538
func TickCountOverhead() uint64 {
	ovhd := uint64(math.MaxUint64)

	for i := 0; i < ovhdCnt; i++ {
		cnt0 := TickCount()
		delta := TickCountP() - cnt0
		if delta < ovhd {
			ovhd = delta
		}
	}

	return ovhd
}
