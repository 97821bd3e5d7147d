//go:build darwin

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect detects available system resources (CPU and RAM).
// On darwin, it uses runtime.NumCPU() for CPU cores and sysctl for memory.
func Detect() (SystemResources, error) {
	resources := SystemResources{
		CPUCores: runtime.NumCPU(),
	}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return resources, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	resources.TotalRAM = int64(memsize)

	// Precise free memory needs host_statistics; half of total is a
	// conservative estimate that is good enough for sizing worker counts.
	resources.AvailableRAM = resources.TotalRAM / 2

	return resources, nil
}
