// Package param parses the jitter command line.
package param

import (
	"flag"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
)

const (
	// Default number of samples fills one gigabyte
	DefaultSamples   = (1 << 30) / 8
	DefaultThreshold = 100000
)

// Run parameters
type Params struct {
	Samples   uint64 // number of samples, including warm-up
	CPU       int    // logical CPU to sample on
	Threshold uint64 // samples above it are printed with their neighbours
	Largest   uint64 // number of largest samples to print
	Verbose   bool
}

// Parses commandline; the sample count range is checked by the caller.
func ParseParams(args []string, usage func()) (*Params, error) {
	progName := filepath.Base(args[0])
	flagSet := flag.NewFlagSet(progName, flag.ContinueOnError)
	flagSet.Usage = usage
	flagSet.SetOutput(nopWriter{})

	params := Params{
		Samples:   DefaultSamples,
		Threshold: DefaultThreshold,
	}
	flagSet.Func("n", "", func(f string) error { return parseUint(f, &params.Samples) })
	flagSet.Func("c", "", func(f string) error { return parseInt(f, &params.CPU) })
	flagSet.Func("t", "", func(f string) error { return parseUint(f, &params.Threshold) })
	flagSet.Func("l", "", func(f string) error { return parseUint(f, &params.Largest) })
	flagSet.BoolVar(&params.Verbose, "v", false, "")

	err := flagSet.Parse(args[1:])
	if err != nil {
		return nil, err
	}

	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}

	return &params, nil
}

// Largest count clipped to int range
func (p *Params) LargestCount() int {
	return int(min(p.Largest, math.MaxInt))
}

func parseUint(val string, target *uint64) error {
	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return numError(err)
	}
	*target = v
	return nil
}

func parseInt(val string, target *int) error {
	v, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return numError(err)
	}
	*target = int(v)
	return nil
}

// Strips the value from strconv message - flag package adds it with the flag name
func numError(err error) error {
	if ne, ok := err.(*strconv.NumError); ok {
		return ne.Err
	}
	return err
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
