package nn

import (
	"fmt"
	"math/rand"
)

// ExpandConv1D is learned upsampling: a convolution to twice the channels,
// then each pair of adjacent output channels becomes two consecutive
// positions, so [N][2C][L] is read as [N][C][2L] with
// out[n][c][2l+j] = conv[n][2c+j][l].
type ExpandConv1D struct {
	Conv *Conv1D
}

// NewExpandConv1D builds the inner convolution channels → 2*channels.
func NewExpandConv1D(name string, channels, kernelSize, padding int, rng *rand.Rand) *ExpandConv1D {
	return &ExpandConv1D{Conv: NewConv1D(name+".conv1d", channels, channels*2, kernelSize, padding, false, rng)}
}

func (e *ExpandConv1D) Params() []*Param {
	return e.Conv.Params()
}

func (e *ExpandConv1D) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	y, err := e.Conv.Forward(tape, x)
	if err != nil {
		return nil, err
	}
	out, err := channelsToLength(y)
	if err != nil {
		return nil, err
	}
	tape.Record(func(g *Tensor) (*Tensor, error) {
		if !SameShape(g, out) {
			return nil, shapeError("expand grad", g.Shape, out.Shape)
		}
		return lengthToChannels(g), nil
	})
	return out, nil
}

func channelsToLength(y *Tensor) (*Tensor, error) {
	batch, channels, seqLen := y.Shape[0], y.Shape[1], y.Shape[2]
	if channels%2 != 0 {
		return nil, fmt.Errorf("expand: odd channel count %d: %w", channels, ErrShape)
	}
	half := channels / 2
	out := NewTensor(batch, half, 2*seqLen)
	for b := 0; b < batch; b++ {
		for c := 0; c < half; c++ {
			dst := out.Data[(b*half+c)*2*seqLen : (b*half+c+1)*2*seqLen]
			for j := 0; j < 2; j++ {
				src := y.Data[(b*channels+2*c+j)*seqLen : (b*channels+2*c+j+1)*seqLen]
				for l, v := range src {
					dst[2*l+j] = v
				}
			}
		}
	}
	if out.Size() != y.Size() {
		return nil, fmt.Errorf("expand: %d elements became %d: %w", y.Size(), out.Size(), ErrShape)
	}
	return out, nil
}

// lengthToChannels is the inverse permutation of channelsToLength.
func lengthToChannels(g *Tensor) *Tensor {
	batch, half, seqLen2 := g.Shape[0], g.Shape[1], g.Shape[2]
	seqLen := seqLen2 / 2
	channels := half * 2
	dy := NewTensor(batch, channels, seqLen)
	for b := 0; b < batch; b++ {
		for c := 0; c < half; c++ {
			src := g.Data[(b*half+c)*seqLen2 : (b*half+c+1)*seqLen2]
			for j := 0; j < 2; j++ {
				dst := dy.Data[(b*channels+2*c+j)*seqLen : (b*channels+2*c+j+1)*seqLen]
				for l := range dst {
					dst[l] = src[2*l+j]
				}
			}
		}
	}
	return dy
}
