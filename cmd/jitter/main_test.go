//go:build linux && amd64

package main

import (
	"bytes"
	"errors"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/aknopov/jitter/cmd/param"
	"github.com/aknopov/jitter/hostinfo"
	"github.com/aknopov/jitter/isolation"
	"github.com/aknopov/jitter/mocker"
	"github.com/aknopov/jitter/store"
	"github.com/stretchr/testify/assert"
)

var (
	errTest = errors.New("test error")
)

type fakeRun struct {
	acquired   bool
	reserved   bool
	sampled    bool
	acquireErr error
	reserveErr error
	value      uint64
}

func (f *fakeRun) install() func() {
	r1 := mocker.ReplaceItem(&acquireF, func(cpu int) (*isolation.Guard, error) {
		f.acquired = true
		if f.acquireErr != nil {
			return nil, f.acquireErr
		}
		return &isolation.Guard{CPU: cpu, Priority: 99}, nil
	})
	r2 := mocker.ReplaceItem(&reserveF, func(count int) (*store.Store, error) {
		f.reserved = true
		if f.reserveErr != nil {
			return nil, f.reserveErr
		}
		return &store.Store{Samples: make([]uint64, count)}, nil
	})
	r3 := mocker.ReplaceItem(&sampleF, func(samples []uint64) {
		f.sampled = true
		for i := range samples {
			samples[i] = f.value
		}
	})
	r4 := mocker.ReplaceItem(&hugePagesF, func() (*hostinfo.Info, error) {
		return &hostinfo.Info{HugePagesTotal: 1, HugePagesFree: 0, HugePageSize: 1 << 30}, nil
	})
	r5 := mocker.ReplaceItem(&describeF, func(cpu int) (*hostinfo.Info, error) {
		return &hostinfo.Info{CPU: cpu, Model: "test"}, nil
	})
	r6 := mocker.ReplaceItem(&overheadF, func() uint64 { return 30 })
	return func() { r6(); r5(); r4(); r3(); r2(); r1() }
}

func TestRun(t *testing.T) {
	assertT := assert.New(t)

	fake := &fakeRun{value: 40}
	defer fake.install()()

	stream, ch := mocker.CreateStream()
	err := run(&param.Params{Samples: 1000, CPU: 2, Threshold: math.MaxUint64}, stream)
	output := mocker.ReadStream(stream, ch)

	assertT.NoError(err)
	assertT.True(fake.acquired && fake.reserved && fake.sampled)

	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	assertT.Equal(2, len(lines))
	assertT.True(strings.HasPrefix(lines[0], "cpu\tmin\tmean"))
	fields := strings.Split(lines[1], "\t")
	assertT.Equal("2", fields[0])
	assertT.Equal("40.000000", fields[2])
	assertT.Equal("0.000000", fields[3])
	assertT.Equal("750", fields[len(fields)-2])
	assertT.Equal("250", fields[len(fields)-1])
}

func TestRunVerboseWithAnomaliesAndLargest(t *testing.T) {
	assertT := assert.New(t)

	fake := &fakeRun{value: 40}
	defer fake.install()()

	stream, ch := mocker.CreateStream()
	err := run(&param.Params{Samples: 8, Threshold: 10, Largest: 3, Verbose: true}, stream)
	output := mocker.ReadStream(stream, ch)

	assertT.NoError(err)
	// 6 usable samples, each above threshold
	assertT.Equal(6, strings.Count(output, "***********\n"))
	assertT.True(strings.HasSuffix(output, "\t6\t2\n40\n40\n40\n"))
}

func TestRunInvalidCount(t *testing.T) {
	assertT := assert.New(t)

	fake := &fakeRun{}
	defer fake.install()()

	stream, ch := mocker.CreateStream()
	err := run(&param.Params{Samples: 0}, stream)
	assertT.ErrorIs(err, store.ErrNoSamples)

	err = run(&param.Params{Samples: math.MaxUint64}, stream)
	assertT.ErrorIs(err, store.ErrTooManySamples)

	assertT.Empty(mocker.ReadStream(stream, ch))
	assertT.False(fake.acquired)
	assertT.False(fake.reserved)
}

func TestRunIsolationFailure(t *testing.T) {
	assertT := assert.New(t)

	fake := &fakeRun{acquireErr: errTest}
	defer fake.install()()

	stream, ch := mocker.CreateStream()
	err := run(&param.Params{Samples: 100}, stream)

	assertT.ErrorIs(err, errTest)
	assertT.Empty(mocker.ReadStream(stream, ch))
	assertT.False(fake.reserved)
}

func TestRunReserveFailure(t *testing.T) {
	assertT := assert.New(t)

	fake := &fakeRun{reserveErr: errTest}
	defer fake.install()()

	stream, ch := mocker.CreateStream()
	err := run(&param.Params{Samples: 100}, stream)

	assertT.ErrorIs(err, errTest)
	assertT.Contains(err.Error(), "huge pages: 0 free of 1")
	assertT.Empty(mocker.ReadStream(stream, ch))
	assertT.False(fake.sampled)
}

func TestExitOnZeroSamples(t *testing.T) {
	assertT := assert.New(t)

	// Testing exit code by starting external "go test"
	testArgs := os.Getenv("JITTER_ARGS")
	if testArgs != "" {
		os.Args = append([]string{"jitter"}, strings.Fields(testArgs)...)
		acquireF = func(int) (*isolation.Guard, error) { panic("isolation before validation") }
		reexecF = func() error { return nil }
		main()
		return // just in case
	}

	for _, args := range []string{"-n 0", "-n 12abc", "-t -1"} {
		cmd := exec.Command(os.Args[0], "-test.run=TestExitOnZeroSamples")
		cmd.Env = append(os.Environ(), "JITTER_ARGS="+args)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		var e *exec.ExitError
		if assertT.ErrorAs(err, &e, "args %q", args) {
			assertT.Equal(1, e.ExitCode(), "args %q", args)
		}
		assertT.Empty(stdout.String(), "args %q", args)
		assertT.NotEmpty(stderr.String(), "args %q", args)
	}
}

func TestUsage(t *testing.T) {
	assertT := assert.New(t)

	stream, ch := mocker.CreateStream()

	usage(stream)

	output := mocker.ReadStream(stream, ch)
	assertT.True(strings.HasPrefix(output, "Measures scheduling jitter on one CPU with the time stamp counter\nUsage: jitter"))
	assertT.Contains(output, "1 to 134217728")
}

func TestReexecNotNeeded(t *testing.T) {
	assertT := assert.New(t)

	t.Setenv("GODEBUG", "madvdontneed=1,asyncpreemptoff=1")

	assertT.NoError(reexec())
}
