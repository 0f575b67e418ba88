package parallel

import (
	"strings"
	"sync/atomic"
	"testing"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	for _, limit := range []int{0, 1, 3, 64} {
		seen := make([]int32, 100)
		ForEach(len(seen), limit, func(i int) {
			atomic.AddInt32(&seen[i], 1)
		})
		for i, n := range seen {
			if n != 1 {
				t.Fatalf("limit %d: index %d visited %d times", limit, i, n)
			}
		}
	}
}

func TestForEachEmpty(t *testing.T) {
	called := false
	ForEach(0, 4, func(int) { called = true })
	if called {
		t.Error("body called for zero length")
	}
}

func TestSetWorkers(t *testing.T) {
	defer SetWorkers(0)

	SetWorkers(3)
	if Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", Workers())
	}
	SetWorkers(0)
	if Workers() < 1 {
		t.Errorf("default workers = %d, want >= 1", Workers())
	}
}

func TestDescribeCPU(t *testing.T) {
	tests := []struct {
		brand string
		cores int
		avx2  bool
		want  string
	}{
		{"Xeon", 8, true, "Xeon, 8 cores, AVX2"},
		{"Cortex-A76", 4, false, "Cortex-A76, 4 cores"},
		{"", 0, false, "unknown CPU, 0 cores"},
	}
	for _, tc := range tests {
		if got := describeCPU(tc.brand, tc.cores, tc.avx2); got != tc.want {
			t.Errorf("describeCPU(%q, %d, %v) = %q, want %q", tc.brand, tc.cores, tc.avx2, got, tc.want)
		}
	}
	if got := CPUSummary(); strings.HasSuffix(got, ", AVX2") != HasAVX2() {
		t.Errorf("CPUSummary() = %q disagrees with HasAVX2() = %v", got, HasAVX2())
	}
}
