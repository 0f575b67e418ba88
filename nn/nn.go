// Package nn provides the tensor, layer and optimization primitives the
// byte-level autoencoder is built from.
//
// Layers run a forward pass on batched tensors and, when given a Tape, record
// a closure that maps the gradient of their output to the gradient of their
// input while accumulating parameter gradients. Calling the same layer several
// times records several closures, so weight sharing across recurrent
// applications needs no special handling:
//
//	tape := nn.NewTape()
//	y, _ := block.Forward(tape, x)
//	y, _ = block.Forward(tape, y) // same weights, second application
//	loss, grad, _ := nn.CrossEntropy(y, targets, pad)
//	tape.Backward(grad) // gradients of both applications land in block's params
//
// Passing a nil Tape runs inference only.
package nn

// Param is a named learnable array with its gradient buffer.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

func newParam(name string, shape ...int) *Param {
	n := numElements(shape)
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
		Grad:  make([]float32, n),
	}
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Tensor views the parameter values as a tensor sharing storage.
func (p *Param) Tensor() *Tensor {
	return &Tensor{Shape: p.Shape, Data: p.Data}
}

// Layer is a differentiable transform over a batch.
type Layer interface {
	// Forward computes the output for x, recording its backward step on
	// tape when tape is non-nil.
	Forward(tape *Tape, x *Tensor) (*Tensor, error)

	// Params returns the learnable parameters in a stable order.
	Params() []*Param
}

// BackwardFunc maps the gradient w.r.t. an op's output to the gradient
// w.r.t. its input. Ops that terminate the graph return nil.
type BackwardFunc func(gradOut *Tensor) (*Tensor, error)

// Tape records backward steps of a chain of ops in execution order.
type Tape struct {
	ops []BackwardFunc
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Record appends a backward step. Recording on a nil tape is a no-op.
func (t *Tape) Record(fn BackwardFunc) {
	if t == nil {
		return
	}
	t.ops = append(t.ops, fn)
}

// Len returns the number of recorded steps.
func (t *Tape) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ops)
}

// Backward replays the recorded steps in reverse and returns the gradient
// w.r.t. the input of the first op.
func (t *Tape) Backward(grad *Tensor) (*Tensor, error) {
	if t == nil {
		return grad, nil
	}
	var err error
	for i := len(t.ops) - 1; i >= 0; i-- {
		grad, err = t.ops[i](grad)
		if err != nil {
			return nil, err
		}
		if grad == nil && i > 0 {
			return nil, nil
		}
	}
	return grad, nil
}

// ZeroGrads clears the gradients of every parameter in ps.
func ZeroGrads(ps []*Param) {
	for _, p := range ps {
		p.ZeroGrad()
	}
}

// CountParams returns the total number of scalar parameters.
func CountParams(ps []*Param) int {
	n := 0
	for _, p := range ps {
		n += len(p.Data)
	}
	return n
}
