package nn

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major float32 array.
// Sequence tensors use the layout [batch][channels][length].
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numElements(shape)),
	}
}

// NewTensorFromSlice wraps data without copying. It returns nil when the
// shape does not cover exactly len(data) elements.
func NewTensorFromSlice(data []float32, shape ...int) *Tensor {
	if numElements(shape) != len(data) {
		return nil
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Reshape returns a view sharing Data with a new shape, or nil when the
// element count differs.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if numElements(shape) != len(t.Data) {
		return nil
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func shapeError(op string, got, want []int) error {
	return fmt.Errorf("%s: got shape %v, want %v: %w", op, got, want, ErrShape)
}

// uniformFill draws every element from U(-bound, bound).
func uniformFill(data []float32, bound float64, rng *rand.Rand) {
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}
