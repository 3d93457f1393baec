// Package hostinfo describes the measurement host: the target CPU and the huge page pool.
package hostinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host properties relevant to a jitter run
type Info struct {
	CPU            int
	Model          string
	Mhz            float64
	LogicalCPUs    int
	HugePagesTotal uint64
	HugePagesFree  uint64
	HugePageSize   uint64
}

// Function substitutions for unit tests
var (
	cpuInfoF   = cpu.Info
	cpuCountsF = cpu.Counts
	virtMemF   = mem.VirtualMemory
)

// Collects information about logical CPU `target` and the huge page pool.
// Unknown CPU index leaves model and frequency empty.
func Describe(target int) (*Info, error) {
	info := Info{CPU: target}

	cpus, err := cpuInfoF()
	if err != nil {
		return nil, fmt.Errorf("failed to read CPU info: %w", err)
	}
	for _, c := range cpus {
		if int(c.CPU) == target {
			info.Model = c.ModelName
			info.Mhz = c.Mhz
			break
		}
	}

	if info.LogicalCPUs, err = cpuCountsF(true); err != nil {
		return nil, fmt.Errorf("failed to count CPUs: %w", err)
	}

	if err = fillHugePages(&info); err != nil {
		return nil, err
	}

	return &info, nil
}

// Reads only the huge page pool
func HugePages() (*Info, error) {
	var info Info
	if err := fillHugePages(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func fillHugePages(info *Info) error {
	vm, err := virtMemF()
	if err != nil {
		return fmt.Errorf("failed to read memory info: %w", err)
	}
	info.HugePagesTotal = vm.HugePagesTotal
	info.HugePagesFree = vm.HugePagesFree
	info.HugePageSize = vm.HugePageSize
	return nil
}

// Huge page pool summary for diagnostics
func (i *Info) HugePagesString() string {
	return fmt.Sprintf("huge pages: %d free of %d, default size %d KB", i.HugePagesFree, i.HugePagesTotal, i.HugePageSize/1024)
}
