// Package jitter turns raw cycle deltas into the jitter report:
// warm-up split, anomaly windows, summary statistics and the largest samples.
package jitter

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"slices"

	"github.com/ericlagergren/decimal"
)

const (
	// Share of samples treated as loop warm-up
	WarmupShare = 0.25

	// Number of neighbours printed on each side of an anomaly
	windowHalf = 2

	separator = "***********"
	header    = "cpu\tmin\tmean\tstddev\tmedian\tpct95\tpct99.7\tpct99.999\tpct99.99999\tmax\tsamples\tbuffer"
)

// Percentile fractions reported after the mean and the standard deviation
var Fractions = []float64{0.5, 0.95, 0.997, 0.99999, 0.9999999}

var ErrNoSamples = errors.New("no samples to analyze")

// Statistics of post-warm-up samples
type Summary struct {
	Min         uint64
	Mean        float64
	StdDev      float64
	Percentiles []uint64 // in the order of `Fractions`
	Max         uint64
	Count       uint64
	Warmup      uint64
}

// Number of leading samples excluded from statistics - floor(n * 0.25)
func WarmupCount(n int) int {
	return int(float64(n) * WarmupShare)
}

// Index of the percentile `p` in a sorted sequence of length `n`
func PercentileIndex(n int, p float64) int {
	return int(float64(n) * p)
}

// Runs the whole analysis over `samples` in capture order and writes the report to `sink`.
//
//   - cpu - CPU index shown in the report
//
//   - threshold - samples above it are printed together with their neighbours
//
//   - largest - number of largest samples printed after the summary
//
// The usable part of `samples` is sorted in place.
func Analyze(sink io.Writer, cpu int, samples []uint64, threshold uint64, largest int) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}

	warmup := WarmupCount(len(samples))
	usable := samples[warmup:]

	// temporal adjacency is lost after sorting
	PrintAnomalies(sink, usable, threshold)

	slices.Sort(usable)
	summary := CalcSummary(usable)
	summary.Warmup = uint64(warmup)

	PrintHeader(sink)
	PrintSummary(sink, cpu, summary)
	PrintLargest(sink, usable, largest)

	return summary, nil
}

// Prints every sample above `threshold` with up to two neighbours on each side.
// Overlapping windows are printed separately. Returns number of printed windows.
//
//nolint:errcheck
func PrintAnomalies(sink io.Writer, usable []uint64, threshold uint64) int {
	windows := 0
	for i, s := range usable {
		if s <= threshold {
			continue
		}
		lo := max(i-windowHalf, 0)
		hi := min(i+windowHalf, len(usable)-1)
		for j := lo; j <= hi; j++ {
			fmt.Fprintf(sink, "%d:\t%d\n", j, usable[j])
		}
		fmt.Fprintln(sink, separator)
		windows++
	}
	return windows
}

// Calculates statistics of the non-empty ascending `sorted` sequence
func CalcSummary(sorted []uint64) Summary {
	count := len(sorted)
	mean := calcMean(sorted)

	sqSum := 0.0
	for _, s := range sorted {
		d := float64(s) - mean
		sqSum += d * d
	}
	stdDev := 0.0
	if count > 1 {
		stdDev = math.Sqrt(sqSum / float64(count-1))
	}

	pcts := make([]uint64, len(Fractions))
	for i, p := range Fractions {
		pcts[i] = sorted[PercentileIndex(count, p)]
	}

	return Summary{
		Min:         sorted[0],
		Mean:        mean,
		StdDev:      stdDev,
		Percentiles: pcts,
		Max:         sorted[count-1],
		Count:       uint64(count),
	}
}

// Sum is accumulated in uint64 chunks and carried into a decimal on overflow
func calcMean(samples []uint64) float64 {
	precCtx := decimal.Context128

	sum := new(decimal.Big)
	bigT := new(decimal.Big)
	var part uint64
	for _, s := range samples {
		next, carry := bits.Add64(part, s, 0)
		if carry != 0 {
			precCtx.Add(sum, sum, bigT.SetUint64(part))
			next = s
		}
		part = next
	}
	precCtx.Add(sum, sum, bigT.SetUint64(part))

	bigN := new(decimal.Big).SetUint64(uint64(len(samples)))
	return big2float(precCtx.Quo(bigT, sum, bigN))
}

func big2float(val *decimal.Big) float64 {
	conv, _ := val.Float64()
	return conv
}

// Prints names of the summary columns
//
//nolint:errcheck
func PrintHeader(sink io.Writer) {
	fmt.Fprintln(sink, header)
}

// Prints summary values in the order of the header
//
//nolint:errcheck
func PrintSummary(sink io.Writer, cpu int, s Summary) {
	fmt.Fprintf(sink, "%d\t%d\t%f\t%f", cpu, s.Min, s.Mean, s.StdDev)
	for _, p := range s.Percentiles {
		fmt.Fprintf(sink, "\t%d", p)
	}
	fmt.Fprintf(sink, "\t%d\t%d\t%d\n", s.Max, s.Count, s.Warmup)
}

// Prints `n` largest values of ascending `sorted`, the largest first
//
//nolint:errcheck
func PrintLargest(sink io.Writer, sorted []uint64, n int) {
	n = min(n, len(sorted))
	for i := 1; i <= n; i++ {
		fmt.Fprintf(sink, "%d\n", sorted[len(sorted)-i])
	}
}
