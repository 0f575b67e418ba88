package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Linear is a fully-connected layer y = x·Wᵀ + b over [batch][features] tensors.
type Linear struct {
	In, Out int

	Weight *Param // [Out][In]
	Bias   *Param // [Out]
}

// NewLinear initializes weights and bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: newParam(name+".weight", out, in),
		Bias:   newParam(name+".bias", out),
	}
	bound := 1 / math.Sqrt(float64(in))
	uniformFill(l.Weight.Data, bound, rng)
	uniformFill(l.Bias.Data, bound, rng)
	return l
}

func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}

func (l *Linear) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.In {
		return nil, shapeError("linear input", x.Shape, []int{-1, l.In})
	}
	batch := x.Shape[0]
	out := NewTensor(batch, l.Out)

	xm := blas32.General{Rows: batch, Cols: l.In, Stride: l.In, Data: x.Data}
	w := blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight.Data}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, xm, w, 0,
		blas32.General{Rows: batch, Cols: l.Out, Stride: l.Out, Data: out.Data})
	for b := 0; b < batch; b++ {
		row := out.Data[b*l.Out : (b+1)*l.Out]
		for o := range row {
			row[o] += l.Bias.Data[o]
		}
	}

	tape.Record(func(g *Tensor) (*Tensor, error) {
		if len(g.Shape) != 2 || g.Shape[0] != batch || g.Shape[1] != l.Out {
			return nil, shapeError("linear grad", g.Shape, []int{batch, l.Out})
		}
		gm := blas32.General{Rows: batch, Cols: l.Out, Stride: l.Out, Data: g.Data}

		// dW += gᵀ·x
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, gm, xm, 1,
			blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight.Grad})
		for b := 0; b < batch; b++ {
			for o, v := range g.Data[b*l.Out : (b+1)*l.Out] {
				l.Bias.Grad[o] += v
			}
		}

		// dx = g·W
		dx := NewTensor(batch, l.In)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, gm, w, 0,
			blas32.General{Rows: batch, Cols: l.In, Stride: l.In, Data: dx.Data})
		return dx, nil
	})
	return out, nil
}
