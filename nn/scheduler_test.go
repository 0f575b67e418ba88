package nn

import (
	"errors"
	"math"
	"testing"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		spec  string
		epoch int
		want  float64
	}{
		{"", 5, 1},
		{"none", 100, 1},
		{"step:10:0.5", 9, 1},
		{"step:10:0.5", 10, 0.5},
		{"step:10:0.5", 25, 0.25},
		{"exp:0.9", 2, 0.81},
		{"cosine:10:0", 0, 1},
		{"cosine:10:0", 5, 0.5},
		{"cosine:10:0.1", 10, 0.1},
		{"poly:4:1", 2, 0.5},
		{"poly:4:2", 4, 0},
	}
	for _, tc := range tests {
		s, err := ParseSchedule(tc.spec)
		if err != nil {
			t.Fatalf("%q: %v", tc.spec, err)
		}
		if got := s.Factor(tc.epoch); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%q epoch %d: factor %v, want %v", tc.spec, tc.epoch, got, tc.want)
		}
	}
}

func TestParseScheduleErrors(t *testing.T) {
	for _, spec := range []string{"step", "step:0:0.5", "step:x:0.5", "exp", "cosine:10", "linear:3", "none:1"} {
		if _, err := ParseSchedule(spec); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%q: expected ErrConfiguration, got %v", spec, err)
		}
	}
}

func TestScheduleNameRoundTrip(t *testing.T) {
	for _, spec := range []string{"step:10:0.5", "exp:0.9", "cosine:20:0.01", "poly:5:2", "none"} {
		s, _ := ParseSchedule(spec)
		if s.Name() != spec {
			t.Errorf("Name() = %q, want %q", s.Name(), spec)
		}
	}
}

func TestLambdaLR(t *testing.T) {
	opt, _ := NewOptimizer("sgd", []*Param{newParam("w", 1)}, 1, nil)
	sched := NewLambdaLR(opt, StepDecaySchedule{Every: 2, Gamma: 0.5})
	lrs := []float64{opt.LR()}
	for i := 0; i < 4; i++ {
		sched.Step()
		lrs = append(lrs, opt.LR())
	}
	want := []float64{1, 1, 0.5, 0.5, 0.25}
	for i := range want {
		if lrs[i] != want[i] {
			t.Errorf("epoch %d lr = %v, want %v", i, lrs[i], want[i])
		}
	}

	sched.Restore(2, 3)
	if opt.LR() != 1 || sched.LastEpoch != 3 {
		t.Errorf("after Restore lr = %v epoch = %d", opt.LR(), sched.LastEpoch)
	}
}
