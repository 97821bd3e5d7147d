//go:build !darwin && !linux

package tuner

import (
	"runtime"
)

// defaultTotalRAM is the fallback total RAM when detection is unavailable.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// Detect detects available system resources. Memory is not probed on this
// platform; a fixed 8GB total with half available is assumed.
func Detect() (SystemResources, error) {
	totalRAM := int64(defaultTotalRAM)

	return SystemResources{
		CPUCores:     runtime.NumCPU(),
		TotalRAM:     totalRAM,
		AvailableRAM: totalRAM / 2,
	}, nil
}
