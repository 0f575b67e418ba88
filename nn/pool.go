package nn

import "fmt"

// MaxPool1D takes the maximum over non-overlapping windows along the length
// axis of [batch][channels][length] tensors.
type MaxPool1D struct {
	KernelSize int
}

func (MaxPool1D) Params() []*Param { return nil }

func (p MaxPool1D) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	k := p.KernelSize
	if k < 1 {
		return nil, fmt.Errorf("maxpool1d: kernel size %d: %w", k, ErrConfiguration)
	}
	if len(x.Shape) != 3 || x.Shape[2] < k {
		return nil, shapeError("maxpool1d input", x.Shape, []int{-1, -1, k})
	}
	batch, channels, seqLen := x.Shape[0], x.Shape[1], x.Shape[2]
	outLen := seqLen / k

	out := NewTensor(batch, channels, outLen)
	argmax := make([]int, len(out.Data))
	for bc := 0; bc < batch*channels; bc++ {
		src := x.Data[bc*seqLen : (bc+1)*seqLen]
		for o := 0; o < outLen; o++ {
			best := o * k
			for i := best + 1; i < (o+1)*k; i++ {
				if src[i] > src[best] {
					best = i
				}
			}
			out.Data[bc*outLen+o] = src[best]
			argmax[bc*outLen+o] = bc*seqLen + best
		}
	}

	tape.Record(func(g *Tensor) (*Tensor, error) {
		if !SameShape(g, out) {
			return nil, shapeError("maxpool1d grad", g.Shape, out.Shape)
		}
		dx := NewTensor(x.Shape...)
		for i, src := range argmax {
			dx.Data[src] += g.Data[i]
		}
		return dx, nil
	})
	return out, nil
}
