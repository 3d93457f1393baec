//go:build amd64

// Package sampler runs the measurement loop over the sample buffer.
package sampler

import (
	"runtime"
	"runtime/debug"

	"github.com/aknopov/jitter/tickcount"
)

// Function substitutions for unit tests
var (
	fillF = tickcount.Fill
	gcF   = runtime.GC
)

// Stores one counter delta per element of `samples`, in capture order.
// The caller is expected to hold its OS thread (see isolation.Acquire).
// The garbage collector is disabled while the loop runs.
func Run(samples []uint64) {
	gcF()
	defer debug.SetGCPercent(debug.SetGCPercent(-1))

	fillF(samples)
}
