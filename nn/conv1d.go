package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/openfluke/bytecnn/parallel"
)

// ConvAccelerator runs the inference-only forward of a stride-1, bias-free
// 1D convolution on another device. Layouts match the CPU path:
// input [batch][inChannels][seqLen], weights [outChannels][inChannels][kernelSize].
type ConvAccelerator interface {
	Conv1DForward(input, weights []float32, batch, inChannels, outChannels, seqLen, kernelSize, padding int) ([]float32, error)
}

// Conv1D is a stride-1 1D convolution over [batch][channels][length] tensors.
// The forward pass lowers each sample with im2col and runs one GEMM per sample.
type Conv1D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Padding     int

	Weight *Param // [OutChannels][InChannels][KernelSize]
	Bias   *Param // nil when the layer has no bias

	// Accel, when set, replaces the CPU forward on inference passes.
	Accel ConvAccelerator
}

// NewConv1D initializes weights from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func NewConv1D(name string, inChannels, outChannels, kernelSize, padding int, bias bool, rng *rand.Rand) *Conv1D {
	c := &Conv1D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Padding:     padding,
		Weight:      newParam(name+".weight", outChannels, inChannels, kernelSize),
	}
	bound := 1 / math.Sqrt(float64(inChannels*kernelSize))
	uniformFill(c.Weight.Data, bound, rng)
	if bias {
		c.Bias = newParam(name+".bias", outChannels)
		uniformFill(c.Bias.Data, bound, rng)
	}
	return c
}

func (c *Conv1D) Params() []*Param {
	if c.Bias != nil {
		return []*Param{c.Weight, c.Bias}
	}
	return []*Param{c.Weight}
}

// OutputLen returns the output length for an input of length seqLen.
func (c *Conv1D) OutputLen(seqLen int) int {
	return seqLen + 2*c.Padding - c.KernelSize + 1
}

func (c *Conv1D) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 3 || x.Shape[1] != c.InChannels {
		return nil, shapeError("conv1d input", x.Shape, []int{-1, c.InChannels, -1})
	}
	batch, seqLen := x.Shape[0], x.Shape[2]
	outLen := c.OutputLen(seqLen)
	if outLen <= 0 {
		return nil, fmt.Errorf("conv1d: length %d too short for kernel %d: %w", seqLen, c.KernelSize, ErrShape)
	}

	if tape == nil && c.Accel != nil {
		data, err := c.Accel.Conv1DForward(x.Data, c.Weight.Data, batch, c.InChannels, c.OutChannels, seqLen, c.KernelSize, c.Padding)
		if err != nil {
			return nil, fmt.Errorf("conv1d accelerator: %w", err)
		}
		out := NewTensorFromSlice(data, batch, c.OutChannels, outLen)
		if out == nil {
			return nil, fmt.Errorf("conv1d accelerator returned %d values: %w", len(data), ErrShape)
		}
		c.addBias(out)
		return out, nil
	}

	rows := c.InChannels * c.KernelSize
	inStride := c.InChannels * seqLen
	outStride := c.OutChannels * outLen
	w := blas32.General{Rows: c.OutChannels, Cols: rows, Stride: rows, Data: c.Weight.Data}

	out := NewTensor(batch, c.OutChannels, outLen)
	var cols [][]float32
	if tape != nil {
		cols = make([][]float32, batch)
	}

	parallel.ForEach(batch, parallel.Workers(), func(b int) {
		col := c.im2col(x.Data[b*inStride:(b+1)*inStride], seqLen, outLen)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, w,
			blas32.General{Rows: rows, Cols: outLen, Stride: outLen, Data: col},
			0, blas32.General{Rows: c.OutChannels, Cols: outLen, Stride: outLen, Data: out.Data[b*outStride : (b+1)*outStride]})
		if cols != nil {
			cols[b] = col
		}
	})
	c.addBias(out)

	tape.Record(func(g *Tensor) (*Tensor, error) {
		return c.backward(g, cols, batch, seqLen, outLen)
	})
	return out, nil
}

func (c *Conv1D) addBias(out *Tensor) {
	if c.Bias == nil {
		return
	}
	outLen := out.Shape[2]
	for b := 0; b < out.Shape[0]; b++ {
		for f := 0; f < c.OutChannels; f++ {
			row := out.Data[(b*c.OutChannels+f)*outLen : (b*c.OutChannels+f+1)*outLen]
			for i := range row {
				row[i] += c.Bias.Data[f]
			}
		}
	}
}

// im2col lays one sample out as a [inChannels*kernelSize][outLen] matrix.
func (c *Conv1D) im2col(x []float32, seqLen, outLen int) []float32 {
	col := make([]float32, c.InChannels*c.KernelSize*outLen)
	for ic := 0; ic < c.InChannels; ic++ {
		src := x[ic*seqLen : (ic+1)*seqLen]
		for k := 0; k < c.KernelSize; k++ {
			dst := col[(ic*c.KernelSize+k)*outLen : (ic*c.KernelSize+k+1)*outLen]
			for o := range dst {
				if pos := o + k - c.Padding; pos >= 0 && pos < seqLen {
					dst[o] = src[pos]
				}
			}
		}
	}
	return col
}

// col2im scatters a column gradient back onto one sample's input gradient.
func (c *Conv1D) col2im(dcol, dx []float32, seqLen, outLen int) {
	for ic := 0; ic < c.InChannels; ic++ {
		dst := dx[ic*seqLen : (ic+1)*seqLen]
		for k := 0; k < c.KernelSize; k++ {
			src := dcol[(ic*c.KernelSize+k)*outLen : (ic*c.KernelSize+k+1)*outLen]
			for o, v := range src {
				if pos := o + k - c.Padding; pos >= 0 && pos < seqLen {
					dst[pos] += v
				}
			}
		}
	}
}

func (c *Conv1D) backward(g *Tensor, cols [][]float32, batch, seqLen, outLen int) (*Tensor, error) {
	want := []int{batch, c.OutChannels, outLen}
	if len(g.Shape) != 3 || g.Shape[0] != batch || g.Shape[1] != c.OutChannels || g.Shape[2] != outLen {
		return nil, shapeError("conv1d grad", g.Shape, want)
	}
	rows := c.InChannels * c.KernelSize
	outStride := c.OutChannels * outLen
	inStride := c.InChannels * seqLen

	w := blas32.General{Rows: c.OutChannels, Cols: rows, Stride: rows, Data: c.Weight.Data}
	dw := blas32.General{Rows: c.OutChannels, Cols: rows, Stride: rows, Data: c.Weight.Grad}
	for b := 0; b < batch; b++ {
		gb := blas32.General{Rows: c.OutChannels, Cols: outLen, Stride: outLen, Data: g.Data[b*outStride : (b+1)*outStride]}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, gb,
			blas32.General{Rows: rows, Cols: outLen, Stride: outLen, Data: cols[b]}, 1, dw)
	}
	if c.Bias != nil {
		for b := 0; b < batch; b++ {
			for f := 0; f < c.OutChannels; f++ {
				var sum float32
				for _, v := range g.Data[b*outStride+f*outLen : b*outStride+(f+1)*outLen] {
					sum += v
				}
				c.Bias.Grad[f] += sum
			}
		}
	}

	dx := NewTensor(batch, c.InChannels, seqLen)
	parallel.ForEach(batch, parallel.Workers(), func(b int) {
		dcol := make([]float32, rows*outLen)
		gb := blas32.General{Rows: c.OutChannels, Cols: outLen, Stride: outLen, Data: g.Data[b*outStride : (b+1)*outStride]}
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, w, gb,
			0, blas32.General{Rows: rows, Cols: outLen, Stride: outLen, Data: dcol})
		c.col2im(dcol, dx.Data[b*inStride:(b+1)*inStride], seqLen, outLen)
	})
	return dx, nil
}
