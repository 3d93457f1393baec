//go:build linux

// Package store reserves the sample buffer: locked, pre-populated memory
// backed by 1 GiB huge pages, so that writing samples never faults.
package store

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	SampleSize = int(unsafe.Sizeof(uint64(0)))
	// Largest buffer is one gigabyte of samples
	MaxSamples = (1 << 30) / SampleSize

	mapHuge1GB = 30 << unix.MAP_HUGE_SHIFT
	mapFlags   = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_HUGETLB | mapHuge1GB |
		unix.MAP_LOCKED | unix.MAP_POPULATE | unix.MAP_NORESERVE
)

var (
	ErrNoSamples      = errors.New("number of samples must be greater than zero")
	ErrTooManySamples = fmt.Errorf("number of samples too large (maximum %d)", MaxSamples)
)

// Sample buffer; stays mapped and locked until the process exits
type Store struct {
	Samples []uint64
	mem     []byte
}

// Function substitutions for unit tests
var (
	mmapF     = unix.Mmap
	madviseF  = unix.Madvise
	mlockallF = unix.Mlockall
)

// Checks the requested number of samples
func Validate(count int) error {
	switch {
	case count <= 0:
		return ErrNoSamples
	case count > MaxSamples:
		return ErrTooManySamples
	}
	return nil
}

// Maps `count` samples, advises sequential use and locks all current and future process memory.
// There is no fallback to ordinary pages.
func Reserve(count int) (*Store, error) {
	if err := Validate(count); err != nil {
		return nil, err
	}

	nbytes := count * SampleSize
	mem, err := mmapF(-1, 0, nbytes, unix.PROT_READ|unix.PROT_WRITE, mapFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes of huge pages: %w", nbytes, err)
	}

	for _, advice := range []int{unix.MADV_SEQUENTIAL, unix.MADV_WILLNEED} {
		if err := madviseF(mem, advice); err != nil {
			return nil, fmt.Errorf("failed to call madvise: %w", err)
		}
	}

	if err := mlockallF(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return nil, fmt.Errorf("failed to lock memory: %w", err)
	}

	return &Store{
		Samples: unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), count),
		mem:     mem,
	}, nil
}

// Size of the mapping in bytes
func (s *Store) Bytes() int {
	return len(s.mem)
}
