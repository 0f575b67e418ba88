package parallel

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
)

var workers atomic.Int64

func init() {
	workers.Store(int64(defaultWorkers()))
}

// defaultWorkers uses the physical core count reported by cpuid, capped by GOMAXPROCS.
func defaultWorkers() int {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = cpuid.CPU.LogicalCores
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if procs := runtime.GOMAXPROCS(0); n > procs {
		n = procs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Workers returns the goroutine limit used by tensor kernels.
func Workers() int {
	return int(workers.Load())
}

// SetWorkers overrides the limit; n <= 0 restores the detected default.
func SetWorkers(n int) {
	if n <= 0 {
		n = defaultWorkers()
	}
	workers.Store(int64(n))
}

// CPUSummary describes the host for startup logs, e.g.
// "AMD Ryzen 9 7950X, 16 cores, AVX2".
func CPUSummary() string {
	return describeCPU(cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, HasAVX2())
}

func describeCPU(brand string, cores int, avx2 bool) string {
	if brand == "" {
		brand = "unknown CPU"
	}
	s := fmt.Sprintf("%s, %d cores", brand, cores)
	if avx2 {
		s += ", AVX2"
	}
	return s
}

// HasAVX2 reports whether the host supports AVX2 and FMA3.
func HasAVX2() bool {
	return cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3)
}
