package nn

// Residual wraps two identically shaped layers with a skip connection:
//
//	out = relu(layer2(relu(layer1(x))) + x)
//
// OutReLU=false drops the final rectifier, for blocks followed by a shape change.
type Residual struct {
	Layer1  Layer
	Layer2  Layer
	OutReLU bool
}

func (r *Residual) Params() []*Param {
	return append(append([]*Param(nil), r.Layer1.Params()...), r.Layer2.Params()...)
}

func (r *Residual) Forward(tape *Tape, x *Tensor) (*Tensor, error) {
	var branch *Tape
	if tape != nil {
		branch = NewTape()
	}

	h, err := r.Layer1.Forward(branch, x)
	if err != nil {
		return nil, err
	}
	h = relu(branch, h)
	h, err = r.Layer2.Forward(branch, h)
	if err != nil {
		return nil, err
	}
	if !SameShape(h, x) {
		return nil, shapeError("residual add", h.Shape, x.Shape)
	}

	sum := NewTensor(x.Shape...)
	for i := range sum.Data {
		sum.Data[i] = h.Data[i] + x.Data[i]
	}
	out := sum
	if r.OutReLU {
		out = relu(nil, sum)
	}

	tape.Record(func(g *Tensor) (*Tensor, error) {
		if !SameShape(g, out) {
			return nil, shapeError("residual grad", g.Shape, out.Shape)
		}
		if r.OutReLU {
			g = reluBackward(g, out)
		}
		gb, err := branch.Backward(g)
		if err != nil {
			return nil, err
		}
		dx := NewTensor(x.Shape...)
		for i := range dx.Data {
			dx.Data[i] = g.Data[i] + gb.Data[i]
		}
		return dx, nil
	})
	return out, nil
}
