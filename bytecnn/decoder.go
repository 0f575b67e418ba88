package bytecnn

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/bytecnn/nn"
)

// Decoder maps [N][4*emsize] latents back to [N][emsize][2^r] logits. Its
// recurrent stage doubles the length on every one of its r-2 applications.
type Decoder struct {
	EmSize int

	Prefix    *nn.Sequential
	Recurrent *nn.Sequential
	Postfix   *nn.Sequential
}

// NewDecoder builds the decoder with parameters named "decoder.*". The
// recurrent stage is expand, relu, conv, relu, then n/2-1 residual blocks.
func NewDecoder(opts Options, rng *rand.Rand) (*Decoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	half := opts.N / 2
	d := &Decoder{EmSize: opts.EmSize}
	var err error
	if d.Prefix, err = nn.Build("decoder.prefix", nn.ResidualSpecs(nn.BlockLinear, latentPositions*opts.EmSize, half, true), rng); err != nil {
		return nil, err
	}

	recurrent := []nn.Layer{
		nn.NewExpandConv1D("decoder.recurrent.0", opts.EmSize, 3, 1, rng),
		nn.ReLU{},
		nn.Conv3("decoder.recurrent.2", opts.EmSize, opts.EmSize, rng),
		nn.ReLU{},
	}
	for i, spec := range nn.ResidualSpecs(nn.BlockConv, opts.EmSize, half-1, true) {
		block, err := nn.BuildResidual(fmt.Sprintf("decoder.recurrent.%d", len(recurrent)+i), spec, rng)
		if err != nil {
			return nil, err
		}
		recurrent = append(recurrent, block)
	}
	d.Recurrent = nn.NewSequential(recurrent...)

	if d.Postfix, err = nn.Build("decoder.postfix", nn.ResidualSpecs(nn.BlockConv, opts.EmSize, half, true), rng); err != nil {
		return nil, err
	}
	return d, nil
}

// Params lists the decoder parameters in construction order.
func (d *Decoder) Params() []*nn.Param {
	ps := append([]*nn.Param(nil), d.Prefix.Params()...)
	ps = append(ps, d.Recurrent.Params()...)
	return append(ps, d.Postfix.Params()...)
}

// Decode runs the decoder with recurrence depth r >= 2, producing logits of
// length 4*2^(r-2).
func (d *Decoder) Decode(tape *nn.Tape, latent *nn.Tensor, r int) (*nn.Tensor, error) {
	if r < 2 {
		return nil, fmt.Errorf("decoder depth %d below 2: %w", r, nn.ErrConfiguration)
	}
	x, err := d.Prefix.Forward(tape, latent)
	if err != nil {
		return nil, fmt.Errorf("decoder prefix: %w", err)
	}
	if x, err = (nn.Reshape{Shape: []int{d.EmSize, latentPositions}}).Forward(tape, x); err != nil {
		return nil, fmt.Errorf("decoder view: %w", err)
	}
	for i := 0; i < r-2; i++ {
		if x, err = d.Recurrent.Forward(tape, x); err != nil {
			return nil, fmt.Errorf("decoder recurrence %d: %w", i, err)
		}
	}
	if x, err = d.Postfix.Forward(tape, x); err != nil {
		return nil, fmt.Errorf("decoder postfix: %w", err)
	}
	return x, nil
}
