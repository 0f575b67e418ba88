package bytecnn

import (
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/openfluke/bytecnn/dataset"
	"github.com/openfluke/bytecnn/nn"
)

// latentPositions is the sequence length left when the recurrent stage
// stops; the postfix flattens it into 4*emsize features.
const latentPositions = 4

// NumRecurrences returns log2(length). Lengths that are not a power of two
// are rejected.
func NumRecurrences(length int) (int, error) {
	if length < 1 || length&(length-1) != 0 {
		return 0, fmt.Errorf("sequence length %d is not a power of two: %w: %w", length, nn.ErrConfiguration, nn.ErrShape)
	}
	return bits.TrailingZeros(uint(length)), nil
}

// Encoder maps a batch of byte sequences of length 2^r to [N][4*emsize]
// latent vectors. The recurrent stage halves the length on every one of its
// r-2 applications, all sharing weights.
type Encoder struct {
	EmSize int

	Embedding *nn.Embedding
	Prefix    *nn.Sequential
	Recurrent *nn.Sequential
	Postfix   *nn.Sequential
}

// NewEncoder builds the encoder with parameters named "encoder.*".
func NewEncoder(opts Options, rng *rand.Rand) (*Encoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	half := opts.N / 2
	e := &Encoder{
		EmSize:    opts.EmSize,
		Embedding: nn.NewEmbedding("encoder.embedding", opts.EmSize, opts.EmSize, int(dataset.PAD), rng),
	}
	var err error
	if e.Prefix, err = nn.Build("encoder.prefix", nn.ResidualSpecs(nn.BlockConv, opts.EmSize, half, true), rng); err != nil {
		return nil, err
	}
	if e.Recurrent, err = nn.Build("encoder.recurrent", nn.ResidualSpecs(nn.BlockConv, opts.EmSize, half, true), rng); err != nil {
		return nil, err
	}
	e.Recurrent.Layers = append(e.Recurrent.Layers, nn.MaxPool1D{KernelSize: 2})
	if e.Postfix, err = nn.Build("encoder.postfix", nn.ResidualSpecs(nn.BlockLinear, latentPositions*opts.EmSize, half, false), rng); err != nil {
		return nil, err
	}
	return e, nil
}

// Params lists the encoder parameters in construction order.
func (e *Encoder) Params() []*nn.Param {
	ps := append([]*nn.Param(nil), e.Embedding.Params()...)
	ps = append(ps, e.Prefix.Params()...)
	ps = append(ps, e.Recurrent.Params()...)
	return append(ps, e.Postfix.Params()...)
}

// Encode runs the encoder with recurrence depth r, which must equal
// NumRecurrences of the batch length and be at least 2.
func (e *Encoder) Encode(tape *nn.Tape, batch dataset.Batch, r int) (*nn.Tensor, error) {
	if err := checkDepth(batch.Len(), r); err != nil {
		return nil, err
	}
	x, err := e.Embedding.Forward(tape, batch)
	if err != nil {
		return nil, fmt.Errorf("encoder embedding: %w", err)
	}
	if x, err = e.Prefix.Forward(tape, x); err != nil {
		return nil, fmt.Errorf("encoder prefix: %w", err)
	}
	for i := 0; i < r-2; i++ {
		if x, err = e.Recurrent.Forward(tape, x); err != nil {
			return nil, fmt.Errorf("encoder recurrence %d: %w", i, err)
		}
	}
	if x, err = (nn.Reshape{Shape: []int{latentPositions * e.EmSize}}).Forward(tape, x); err != nil {
		return nil, fmt.Errorf("encoder flatten: %w", err)
	}
	if x, err = e.Postfix.Forward(tape, x); err != nil {
		return nil, fmt.Errorf("encoder postfix: %w", err)
	}
	return x, nil
}

func checkDepth(length, r int) error {
	want, err := NumRecurrences(length)
	if err != nil {
		return err
	}
	if r != want {
		return fmt.Errorf("recurrence depth %d does not match length %d (want %d): %w", r, length, want, nn.ErrConfiguration)
	}
	if r < 2 {
		return fmt.Errorf("sequence length %d is shorter than %d positions: %w", length, latentPositions, nn.ErrConfiguration)
	}
	return nil
}
