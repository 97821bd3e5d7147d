package tuner

// Worker configuration limits.
const (
	// maxWorkers caps explicit overrides.
	maxWorkers = 64

	// maxRemoteWorkers caps uploads to remote services.
	maxRemoteWorkers = 32

	// minRemoteWorkers keeps a few uploads in flight on small machines.
	minRemoteWorkers = 4

	// localToolMemory is the working set budgeted per local tool process.
	localToolMemory = 256 * 1024 * 1024
)

// Workload describes which kind of backends a run will use.
type Workload int

const (
	// Local runs only command-line tools, which are CPU bound.
	Local Workload = iota
	// Remote runs only HTTP services, which are I/O bound.
	Remote
	// Mixed runs both.
	Mixed
)

// String returns the workload name.
func (w Workload) String() string {
	switch w {
	case Remote:
		return "remote"
	case Mixed:
		return "mixed"
	default:
		return "local"
	}
}

// OptimalConfig contains the tuned run configuration.
type OptimalConfig struct {
	// Workers is the number of files optimized concurrently.
	Workers int

	// Workload is the workload the value was computed for.
	Workload Workload
}

// Calculate returns the worker count for workload.
//
// The calculation logic:
//   - Local: NumCPU, further limited so that each tool process can have
//     localToolMemory of the available RAM
//   - Remote: NumCPU * 4 within [4, 32], since uploads mostly wait on the
//     network
//   - Mixed: the larger of the local value and NumCPU * 2 (capped at 32)
func Calculate(resources SystemResources, workload Workload) OptimalConfig {
	cpus := max(resources.CPUCores, 1)

	local := cpus
	if resources.AvailableRAM > 0 {
		byMemory := int(resources.AvailableRAM / localToolMemory)
		local = min(local, max(byMemory, 1))
	}

	remote := min(max(cpus*4, minRemoteWorkers), maxRemoteWorkers)

	workers := local
	switch workload {
	case Remote:
		workers = remote
	case Mixed:
		workers = max(local, min(cpus*2, maxRemoteWorkers))
	}

	return OptimalConfig{Workers: workers, Workload: workload}
}

// CalculateWithOverrides applies a user override to the computed config.
// An override greater than 0 replaces the worker count, capped at 64.
func CalculateWithOverrides(resources SystemResources, workload Workload, workerOverride int) OptimalConfig {
	config := Calculate(resources, workload)

	if workerOverride > 0 {
		config.Workers = min(workerOverride, maxWorkers)
	}

	return config
}
