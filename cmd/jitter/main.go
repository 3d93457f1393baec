//go:build linux && amd64

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/aknopov/fancylogger"
	"github.com/aknopov/jitter"
	"github.com/aknopov/jitter/cmd/param"
	"github.com/aknopov/jitter/hostinfo"
	"github.com/aknopov/jitter/isolation"
	"github.com/aknopov/jitter/sampler"
	"github.com/aknopov/jitter/store"
	"github.com/aknopov/jitter/tickcount"
	"golang.org/x/sys/unix"
)

const (
	outBufSize = 1 << 16

	// Without it the runtime signals the sampling thread every 10 ms
	noPreempt = "asyncpreemptoff=1"
)

var (
	logger = fancylogger.NewLogger(os.Stderr, fancylogger.LiteFg)
)

// Function substitutions for unit tests
var (
	acquireF   = isolation.Acquire
	describeF  = hostinfo.Describe
	hugePagesF = hostinfo.HugePages
	reserveF   = store.Reserve
	sampleF    = sampler.Run
	overheadF  = tickcount.TickCountOverhead
	reexecF    = reexec
)

func main() {
	params, err := param.ParseParams(os.Args, func() { usage(os.Stderr) })
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			logger.Error().Msgf("Invalid argument: %s", err)
		}
		os.Exit(1)
	}

	if err = reexecF(); err != nil {
		logger.Error().Msgf("Failed to restart with %s: %s", noPreempt, err)
		os.Exit(1)
	}

	if err = run(params, os.Stdout); err != nil {
		logger.Error().Msg(err.Error())
		os.Exit(1)
	}
}

// Isolates, reserves, samples and reports. Nothing is written to `sink` unless all steps succeed.
func run(params *param.Params, sink io.Writer) error {
	count := int(min(params.Samples, uint64(math.MaxInt)))
	if err := store.Validate(count); err != nil {
		return err
	}

	guard, err := acquireF(params.CPU)
	if err != nil {
		return err
	}
	if params.Verbose {
		logEnvironment(guard)
	}

	st, err := reserveF(count)
	if err != nil {
		if info, hErr := hugePagesF(); hErr == nil {
			return fmt.Errorf("%w; %s", err, info.HugePagesString())
		}
		return err
	}
	if params.Verbose {
		logger.Debug().Int("samples", count).Int("bytes", st.Bytes()).Msg("Sample store is ready")
	}

	sampleF(st.Samples)

	out := bufio.NewWriterSize(sink, outBufSize)
	_, err = jitter.Analyze(out, guard.CPU, st.Samples, params.Threshold, params.LargestCount())
	if err != nil {
		return err
	}
	return out.Flush()
}

// Replaces the process with itself running with asynchronous preemption off.
// Returns nil without exec when the setting is already in place.
func reexec() error {
	godebug := os.Getenv("GODEBUG")
	if strings.Contains(godebug, noPreempt) {
		return nil
	}
	if godebug != "" {
		godebug += ","
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	env := []string{"GODEBUG=" + godebug + noPreempt}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GODEBUG=") {
			env = append(env, kv)
		}
	}
	return unix.Exec(exe, os.Args, env)
}

func logEnvironment(guard *isolation.Guard) {
	logger.Debug().Int("cpu", guard.CPU).Int("priority", guard.Priority).Msg("Thread isolated")
	logger.Debug().Msgf("Counter read overhead %d cycles", overheadF())

	info, err := describeF(guard.CPU)
	if err != nil {
		logger.Debug().Str("error", err.Error()).Msg("Host description unavailable")
		return
	}
	logger.Debug().Str("model", info.Model).Float64("MHz", info.Mhz).Int("logical CPUs", info.LogicalCPUs).Send()
	logger.Debug().Msg(info.HugePagesString())
}

func usage(sink *os.File) {
	fmt.Fprintf(sink, `Measures scheduling jitter on one CPU with the time stamp counter
Usage: jitter -n=... -c=... -t=... -l=... -v
-n - number of samples, 1 to %d (default %d)
-c - CPU to run on (default 0)
-t - print samples above this number of cycles with their neighbours (default %d)
-l - number of largest samples to print (default 0)
-v - log host details to stderr
`, store.MaxSamples, param.DefaultSamples, param.DefaultThreshold)
}
