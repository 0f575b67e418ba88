package nn

// ReLU is the rectifier as a parameterless layer.
type ReLU struct{}

func (ReLU) Params() []*Param { return nil }

// Forward computes max(x, 0).
func (ReLU) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	return relu(tape, x), nil
}

func relu(tape *Tape, x *Tensor) *Tensor {
	out := NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	tape.Record(func(g *Tensor) (*Tensor, error) {
		return reluBackward(g, out), nil
	})
	return out
}

// reluBackward gates g by the sign of the forward output.
func reluBackward(g, out *Tensor) *Tensor {
	dx := NewTensor(g.Shape...)
	for i, v := range out.Data {
		if v > 0 {
			dx.Data[i] = g.Data[i]
		}
	}
	return dx
}
