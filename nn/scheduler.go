package nn

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Schedule maps an epoch index (0-based) to a multiplicative factor on the
// base learning rate. Implementations are pure.
type Schedule interface {
	Factor(epoch int) float64
	Name() string
}

// ============================================================================
// Constant - factor 1
// ============================================================================

type ConstantSchedule struct{}

func (ConstantSchedule) Factor(int) float64 { return 1 }
func (ConstantSchedule) Name() string       { return "none" }

// ============================================================================
// Step decay - gamma^(epoch / every)
// ============================================================================

type StepDecaySchedule struct {
	Every int
	Gamma float64
}

func (s StepDecaySchedule) Factor(epoch int) float64 {
	return math.Pow(s.Gamma, float64(epoch/s.Every))
}

func (s StepDecaySchedule) Name() string {
	return fmt.Sprintf("step:%d:%g", s.Every, s.Gamma)
}

// ============================================================================
// Exponential decay - gamma^epoch
// ============================================================================

type ExponentialSchedule struct {
	Gamma float64
}

func (s ExponentialSchedule) Factor(epoch int) float64 {
	return math.Pow(s.Gamma, float64(epoch))
}

func (s ExponentialSchedule) Name() string {
	return fmt.Sprintf("exp:%g", s.Gamma)
}

// ============================================================================
// Cosine annealing - from 1 down to MinFactor over Epochs
// ============================================================================

type CosineSchedule struct {
	Epochs    int
	MinFactor float64
}

func (s CosineSchedule) Factor(epoch int) float64 {
	if epoch >= s.Epochs {
		return s.MinFactor
	}
	progress := float64(epoch) / float64(s.Epochs)
	return s.MinFactor + (1-s.MinFactor)*(1+math.Cos(math.Pi*progress))/2
}

func (s CosineSchedule) Name() string {
	return fmt.Sprintf("cosine:%d:%g", s.Epochs, s.MinFactor)
}

// ============================================================================
// Polynomial decay - (1 - epoch/Epochs)^Power, zero afterwards
// ============================================================================

type PolynomialSchedule struct {
	Epochs int
	Power  float64
}

func (s PolynomialSchedule) Factor(epoch int) float64 {
	if epoch >= s.Epochs {
		return 0
	}
	return math.Pow(1-float64(epoch)/float64(s.Epochs), s.Power)
}

func (s PolynomialSchedule) Name() string {
	return fmt.Sprintf("poly:%d:%g", s.Epochs, s.Power)
}

// ParseSchedule parses "none", "step:<every>:<gamma>", "exp:<gamma>",
// "cosine:<epochs>:<min>" and "poly:<epochs>:<power>". The empty string is "none".
func ParseSchedule(spec string) (Schedule, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	bad := func(err error) (Schedule, error) {
		if err != nil {
			return nil, fmt.Errorf("lr schedule %q: %v: %w", spec, err, ErrConfiguration)
		}
		return nil, fmt.Errorf("lr schedule %q: %w", spec, ErrConfiguration)
	}
	args := parts[1:]
	intArg := func(i int) (int, error) {
		v, err := strconv.Atoi(args[i])
		if err == nil && v <= 0 {
			err = fmt.Errorf("%d must be positive", v)
		}
		return v, err
	}
	floatArg := func(i int) (float64, error) {
		return strconv.ParseFloat(args[i], 64)
	}

	switch parts[0] {
	case "", "none":
		if len(args) != 0 {
			return bad(nil)
		}
		return ConstantSchedule{}, nil
	case "step":
		if len(args) != 2 {
			return bad(nil)
		}
		every, err := intArg(0)
		if err != nil {
			return bad(err)
		}
		gamma, err := floatArg(1)
		if err != nil {
			return bad(err)
		}
		return StepDecaySchedule{Every: every, Gamma: gamma}, nil
	case "exp":
		if len(args) != 1 {
			return bad(nil)
		}
		gamma, err := floatArg(0)
		if err != nil {
			return bad(err)
		}
		return ExponentialSchedule{Gamma: gamma}, nil
	case "cosine":
		if len(args) != 2 {
			return bad(nil)
		}
		epochs, err := intArg(0)
		if err != nil {
			return bad(err)
		}
		minFactor, err := floatArg(1)
		if err != nil {
			return bad(err)
		}
		return CosineSchedule{Epochs: epochs, MinFactor: minFactor}, nil
	case "poly":
		if len(args) != 2 {
			return bad(nil)
		}
		epochs, err := intArg(0)
		if err != nil {
			return bad(err)
		}
		power, err := floatArg(1)
		if err != nil {
			return bad(err)
		}
		return PolynomialSchedule{Epochs: epochs, Power: power}, nil
	default:
		return bad(nil)
	}
}

// LambdaLR drives an optimizer's learning rate from a Schedule:
// lr = BaseLR * Factor(LastEpoch). Step advances one epoch.
type LambdaLR struct {
	Opt       Optimizer
	Schedule  Schedule
	BaseLR    float64
	LastEpoch int
}

// NewLambdaLR captures the optimizer's current rate as the base and applies
// the factor of epoch 0.
func NewLambdaLR(opt Optimizer, schedule Schedule) *LambdaLR {
	s := &LambdaLR{Opt: opt, Schedule: schedule, BaseLR: opt.LR()}
	opt.SetLR(s.BaseLR * schedule.Factor(0))
	return s
}

// Step moves to the next epoch and updates the optimizer.
func (s *LambdaLR) Step() {
	s.LastEpoch++
	s.Opt.SetLR(s.BaseLR * s.Schedule.Factor(s.LastEpoch))
}

// Restore jumps to a saved epoch, as after resuming a run.
func (s *LambdaLR) Restore(baseLR float64, lastEpoch int) {
	s.BaseLR = baseLR
	s.LastEpoch = lastEpoch
	s.Opt.SetLR(baseLR * s.Schedule.Factor(lastEpoch))
}
