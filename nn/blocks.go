package nn

import (
	"fmt"
	"math/rand"
)

// BlockKind selects the transform pair inside a residual block.
type BlockKind int

const (
	BlockConv   BlockKind = iota // Conv1D(width→width, k=3, pad=1, no bias)
	BlockLinear                  // Linear(width→width)
)

func (k BlockKind) String() string {
	switch k {
	case BlockConv:
		return "conv"
	case BlockLinear:
		return "linear"
	default:
		return fmt.Sprintf("BlockKind(%d)", int(k))
	}
}

// BlockSpec describes one residual block.
type BlockSpec struct {
	Kind    BlockKind
	Width   int
	OutReLU bool
}

// ResidualSpecs returns count residual blocks of the given kind and width.
// When lastOutReLU is false the final block omits its trailing relu.
func ResidualSpecs(kind BlockKind, width, count int, lastOutReLU bool) []BlockSpec {
	specs := make([]BlockSpec, count)
	for i := range specs {
		specs[i] = BlockSpec{Kind: kind, Width: width, OutReLU: true}
	}
	if count > 0 {
		specs[count-1].OutReLU = lastOutReLU
	}
	return specs
}

// Conv3 builds the kernel-3, padding-1, bias-free convolution used throughout
// the autoencoder.
func Conv3(name string, in, out int, rng *rand.Rand) *Conv1D {
	return NewConv1D(name, in, out, 3, 1, false, rng)
}

// BuildResidual instantiates one block; parameters are named
// "<name>.layer1.*" and "<name>.layer2.*".
func BuildResidual(name string, spec BlockSpec, rng *rand.Rand) (*Residual, error) {
	if spec.Width <= 0 {
		return nil, fmt.Errorf("residual %s: width %d: %w", name, spec.Width, ErrConfiguration)
	}
	r := &Residual{OutReLU: spec.OutReLU}
	switch spec.Kind {
	case BlockConv:
		r.Layer1 = Conv3(name+".layer1", spec.Width, spec.Width, rng)
		r.Layer2 = Conv3(name+".layer2", spec.Width, spec.Width, rng)
	case BlockLinear:
		r.Layer1 = NewLinear(name+".layer1", spec.Width, spec.Width, rng)
		r.Layer2 = NewLinear(name+".layer2", spec.Width, spec.Width, rng)
	default:
		return nil, fmt.Errorf("residual %s: unknown block kind %v: %w", name, spec.Kind, ErrConfiguration)
	}
	return r, nil
}

// Build instantiates specs in order as a Sequential; block i is named "<prefix>.<i>".
func Build(prefix string, specs []BlockSpec, rng *rand.Rand) (*Sequential, error) {
	layers := make([]Layer, 0, len(specs))
	for i, spec := range specs {
		r, err := BuildResidual(fmt.Sprintf("%s.%d", prefix, i), spec, rng)
		if err != nil {
			return nil, err
		}
		layers = append(layers, r)
	}
	return NewSequential(layers...), nil
}
