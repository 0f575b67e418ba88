package nn

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Optimizer updates a fixed set of parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies the current gradients to the parameters.
	Step()

	// ZeroGrad clears the gradients of every managed parameter.
	ZeroGrad()

	// LR returns the current learning rate; SetLR changes it (schedules).
	LR() float64
	SetLR(lr float64)

	// State returns everything needed to resume, including per-parameter slots.
	State() OptimizerState

	// LoadState restores State output taken from an optimizer of the same type
	// over parameters with the same names and sizes.
	LoadState(state OptimizerState) error

	// Name returns the registry name ("sgd", "adam", "adagrad", "adadelta").
	Name() string
}

// OptimizerState is the serializable form of an optimizer. Slots are keyed
// "<param name>.<slot>" and persisted separately from the JSON scalars.
type OptimizerState struct {
	Type  string               `json:"type"`
	LR    float64              `json:"lr"`
	Step  int                  `json:"step"`
	Hyper map[string]float64   `json:"hyper"`
	Slots map[string][]float32 `json:"-"`
}

// OptimizerNames lists the names accepted by NewOptimizer.
var OptimizerNames = []string{"sgd", "adam", "adagrad", "adadelta"}

// NewOptimizer builds an optimizer by name. kwargs override the defaults of
// that optimizer; unknown names or keys are configuration errors.
func NewOptimizer(name string, params []*Param, lr float64, kwargs map[string]float64) (Optimizer, error) {
	var (
		opt      Optimizer
		defaults map[string]float64
	)
	switch name {
	case "sgd":
		defaults = map[string]float64{"momentum": 0, "dampening": 0, "nesterov": 0, "weight_decay": 0}
	case "adam":
		defaults = map[string]float64{"beta1": 0.9, "beta2": 0.999, "eps": 1e-8, "weight_decay": 0}
	case "adagrad":
		defaults = map[string]float64{"lr_decay": 0, "weight_decay": 0, "initial_accumulator_value": 0, "eps": 1e-10}
	case "adadelta":
		defaults = map[string]float64{"rho": 0.9, "eps": 1e-6, "weight_decay": 0}
	default:
		return nil, fmt.Errorf("unknown optimizer %q (want one of %s): %w", name, strings.Join(OptimizerNames, ", "), ErrConfiguration)
	}
	hyper, err := mergeHyper(name, defaults, kwargs)
	if err != nil {
		return nil, err
	}
	if lr < 0 {
		return nil, fmt.Errorf("%s: negative learning rate %g: %w", name, lr, ErrConfiguration)
	}

	base := optBase{name: name, params: params, lr: lr, hyper: hyper, slots: make(map[string][]float32)}
	switch name {
	case "sgd":
		if hyper["nesterov"] != 0 && (hyper["momentum"] <= 0 || hyper["dampening"] != 0) {
			return nil, fmt.Errorf("sgd: nesterov requires momentum > 0 and zero dampening: %w", ErrConfiguration)
		}
		opt = &SGD{optBase: base}
	case "adam":
		opt = &Adam{optBase: base}
	case "adagrad":
		opt = &Adagrad{optBase: base}
	case "adadelta":
		opt = &Adadelta{optBase: base}
	}
	return opt, nil
}

func mergeHyper(name string, defaults, kwargs map[string]float64) (map[string]float64, error) {
	hyper := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		hyper[k] = v
	}
	var unknown []string
	for k, v := range kwargs {
		if _, ok := defaults[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		hyper[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%s: unknown optimizer kwargs %s: %w", name, strings.Join(unknown, ", "), ErrConfiguration)
	}
	return hyper, nil
}

// optBase holds what every optimizer shares.
type optBase struct {
	name   string
	params []*Param
	lr     float64
	step   int
	hyper  map[string]float64
	slots  map[string][]float32
}

func (o *optBase) ZeroGrad()        { ZeroGrads(o.params) }
func (o *optBase) LR() float64      { return o.lr }
func (o *optBase) SetLR(lr float64) { o.lr = lr }
func (o *optBase) Name() string     { return o.name }

// slot returns the named accumulator for p, creating it filled with init.
func (o *optBase) slot(p *Param, name string, init float32) []float32 {
	key := p.Name + "." + name
	s, ok := o.slots[key]
	if !ok {
		s = make([]float32, len(p.Data))
		if init != 0 {
			for i := range s {
				s[i] = init
			}
		}
		o.slots[key] = s
	}
	return s
}

func (o *optBase) State() OptimizerState {
	st := OptimizerState{
		Type:  o.name,
		LR:    o.lr,
		Step:  o.step,
		Hyper: make(map[string]float64, len(o.hyper)),
		Slots: make(map[string][]float32, len(o.slots)),
	}
	for k, v := range o.hyper {
		st.Hyper[k] = v
	}
	for k, v := range o.slots {
		st.Slots[k] = append([]float32(nil), v...)
	}
	return st
}

func (o *optBase) LoadState(st OptimizerState) error {
	if st.Type != o.name {
		return fmt.Errorf("invalid optimizer type: expected %s, got %q: %w", o.name, st.Type, ErrValidation)
	}
	sizes := make(map[string]int, len(o.params))
	for _, p := range o.params {
		sizes[p.Name] = len(p.Data)
	}
	slots := make(map[string][]float32, len(st.Slots))
	for key, v := range st.Slots {
		i := strings.LastIndexByte(key, '.')
		if i < 0 {
			return fmt.Errorf("optimizer slot %q: %w", key, ErrValidation)
		}
		n, ok := sizes[key[:i]]
		if !ok {
			return fmt.Errorf("optimizer slot %q for unknown parameter: %w", key, ErrValidation)
		}
		if n != len(v) {
			return fmt.Errorf("optimizer slot %q has %d values, parameter has %d: %w", key, len(v), n, ErrShape)
		}
		slots[key] = append([]float32(nil), v...)
	}
	for k, v := range st.Hyper {
		if _, ok := o.hyper[k]; ok {
			o.hyper[k] = v
		}
	}
	o.lr = st.LR
	o.step = st.Step
	o.slots = slots
	return nil
}

// decayed returns the gradient with L2 weight decay folded in.
func decayed(p *Param, i int, wd float64) float64 {
	g := float64(p.Grad[i])
	if wd != 0 {
		g += wd * float64(p.Data[i])
	}
	return g
}

// ============================================================================
// SGD (with optional momentum, dampening and Nesterov)
// ============================================================================

type SGD struct{ optBase }

func (o *SGD) Step() {
	o.step++
	momentum, dampening := o.hyper["momentum"], o.hyper["dampening"]
	nesterov := o.hyper["nesterov"] != 0
	wd := o.hyper["weight_decay"]

	for _, p := range o.params {
		var buf []float32
		fresh := false
		if momentum != 0 {
			_, had := o.slots[p.Name+".momentum_buffer"]
			buf = o.slot(p, "momentum_buffer", 0)
			fresh = !had
		}
		for i := range p.Data {
			g := decayed(p, i, wd)
			if buf != nil {
				b := float64(buf[i])
				if fresh {
					b = g
				} else {
					b = momentum*b + (1-dampening)*g
				}
				buf[i] = float32(b)
				if nesterov {
					g += momentum * b
				} else {
					g = b
				}
			}
			p.Data[i] -= float32(o.lr * g)
		}
	}
}

// ============================================================================
// Adam (L2 weight decay added to the gradient)
// ============================================================================

type Adam struct{ optBase }

func (o *Adam) Step() {
	o.step++
	b1, b2, eps, wd := o.hyper["beta1"], o.hyper["beta2"], o.hyper["eps"], o.hyper["weight_decay"]
	bc1 := 1 - math.Pow(b1, float64(o.step))
	bc2 := 1 - math.Pow(b2, float64(o.step))
	stepSize := o.lr / bc1
	sqrtBC2 := math.Sqrt(bc2)

	for _, p := range o.params {
		m := o.slot(p, "exp_avg", 0)
		v := o.slot(p, "exp_avg_sq", 0)
		for i := range p.Data {
			g := decayed(p, i, wd)
			mi := b1*float64(m[i]) + (1-b1)*g
			vi := b2*float64(v[i]) + (1-b2)*g*g
			m[i], v[i] = float32(mi), float32(vi)
			p.Data[i] -= float32(stepSize * mi / (math.Sqrt(vi)/sqrtBC2 + eps))
		}
	}
}

// ============================================================================
// Adagrad
// ============================================================================

type Adagrad struct{ optBase }

func (o *Adagrad) Step() {
	o.step++
	wd, eps := o.hyper["weight_decay"], o.hyper["eps"]
	clr := o.lr / (1 + float64(o.step-1)*o.hyper["lr_decay"])
	init := float32(o.hyper["initial_accumulator_value"])

	for _, p := range o.params {
		sum := o.slot(p, "sum", init)
		for i := range p.Data {
			g := decayed(p, i, wd)
			s := float64(sum[i]) + g*g
			sum[i] = float32(s)
			p.Data[i] -= float32(clr * g / (math.Sqrt(s) + eps))
		}
	}
}

// ============================================================================
// Adadelta
// ============================================================================

type Adadelta struct{ optBase }

func (o *Adadelta) Step() {
	o.step++
	rho, eps, wd := o.hyper["rho"], o.hyper["eps"], o.hyper["weight_decay"]

	for _, p := range o.params {
		sq := o.slot(p, "square_avg", 0)
		acc := o.slot(p, "acc_delta", 0)
		for i := range p.Data {
			g := decayed(p, i, wd)
			s := rho*float64(sq[i]) + (1-rho)*g*g
			delta := math.Sqrt(float64(acc[i])+eps) / math.Sqrt(s+eps) * g
			a := rho*float64(acc[i]) + (1-rho)*delta*delta
			sq[i], acc[i] = float32(s), float32(a)
			p.Data[i] -= float32(o.lr * delta)
		}
	}
}
