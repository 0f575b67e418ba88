package nn

import "fmt"

// Sequential applies its layers in order. Calling Forward repeatedly reuses
// the same parameters; each call records its own backward steps.
type Sequential struct {
	Layers []Layer
}

// NewSequential composes layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range s.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (s *Sequential) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Forward(tape, x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

// Len returns the number of layers.
func (s *Sequential) Len() int {
	return len(s.Layers)
}

// Reshape is a parameterless layer viewing its input with a new per-sample
// shape; the batch dimension is kept.
type Reshape struct {
	Shape []int
}

func (Reshape) Params() []*Param { return nil }

func (r Reshape) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	shape := append([]int{x.Shape[0]}, r.Shape...)
	out := x.Reshape(shape...)
	if out == nil {
		return nil, shapeError("reshape", x.Shape, shape)
	}
	in := x.Shape
	tape.Record(func(g *Tensor) (*Tensor, error) {
		dx := g.Reshape(in...)
		if dx == nil {
			return nil, shapeError("reshape grad", g.Shape, in)
		}
		return dx, nil
	})
	return out, nil
}
