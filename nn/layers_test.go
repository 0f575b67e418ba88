package nn

import (
	"errors"
	"math/rand"
	"testing"
)

func TestConv1DForwardValues(t *testing.T) {
	conv := NewConv1D("c", 1, 1, 3, 1, false, rand.New(rand.NewSource(1)))
	copy(conv.Weight.Data, []float32{1, 2, 3})
	x := NewTensorFromSlice([]float32{1, 2, 3, 4}, 1, 1, 4)

	out, err := conv.Forward(nil, x)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{8, 14, 20, 11}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], v)
		}
	}
}

func TestConv1DRejectsWrongChannels(t *testing.T) {
	conv := Conv3("c", 2, 2, rand.New(rand.NewSource(1)))
	_, err := conv.Forward(nil, NewTensor(1, 3, 4))
	if !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

type stubAccel struct{ calls int }

func (s *stubAccel) Conv1DForward(input, weights []float32, batch, inC, outC, seqLen, k, pad int) ([]float32, error) {
	s.calls++
	return make([]float32, batch*outC*(seqLen+2*pad-k+1)), nil
}

func TestConv1DUsesAcceleratorOnlyForInference(t *testing.T) {
	conv := Conv3("c", 2, 2, rand.New(rand.NewSource(1)))
	accel := &stubAccel{}
	conv.Accel = accel
	x := randomTensor(rand.New(rand.NewSource(2)), -1, 1, 1, 2, 4)

	if _, err := conv.Forward(nil, x); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Forward(NewTape(), x); err != nil {
		t.Fatal(err)
	}
	if accel.calls != 1 {
		t.Errorf("accelerator called %d times, want 1", accel.calls)
	}
}

func TestLinearForwardValues(t *testing.T) {
	lin := NewLinear("l", 2, 2, rand.New(rand.NewSource(1)))
	copy(lin.Weight.Data, []float32{1, 2, 3, 4})
	copy(lin.Bias.Data, []float32{0.5, -0.5})
	out, err := lin.Forward(nil, NewTensorFromSlice([]float32{1, 1}, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 3.5 || out.Data[1] != 6.5 {
		t.Errorf("got %v, want [3.5 6.5]", out.Data)
	}
}

func TestMaxPool1D(t *testing.T) {
	x := NewTensorFromSlice([]float32{1, 5, 3, 2, -1, -4, 0, 9}, 1, 2, 4)
	out, err := MaxPool1D{KernelSize: 2}.Forward(nil, x)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{5, 3, -1, 9}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], v)
		}
	}
	if out.Dim(-1) != 2 {
		t.Errorf("pooled length %d, want 2", out.Dim(-1))
	}
}

func TestExpandPermutation(t *testing.T) {
	// channels c0..c3, each of length 2, value = 10*c + l
	y := NewTensorFromSlice([]float32{0, 1, 10, 11, 20, 21, 30, 31}, 1, 4, 2)
	out, err := channelsToLength(y)
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape[1] != 2 || out.Shape[2] != 4 {
		t.Fatalf("shape %v, want [1 2 4]", out.Shape)
	}
	want := []float32{0, 10, 1, 11, 20, 30, 21, 31}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], v)
		}
	}
	back := lengthToChannels(out)
	for i := range y.Data {
		if back.Data[i] != y.Data[i] {
			t.Errorf("inverse[%d] = %v, want %v", i, back.Data[i], y.Data[i])
		}
	}
}

func TestExpandRejectsOddChannels(t *testing.T) {
	if _, err := channelsToLength(NewTensor(1, 3, 2)); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestExpandConv1DShape(t *testing.T) {
	e := NewExpandConv1D("e", 8, 3, 1, rand.New(rand.NewSource(1)))
	out, err := e.Forward(nil, NewTensor(2, 8, 4))
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 8 || out.Shape[2] != 8 {
		t.Errorf("shape %v, want [2 8 8]", out.Shape)
	}
	if e.Params()[0].Name != "e.conv1d.weight" {
		t.Errorf("param name %q", e.Params()[0].Name)
	}
}

func TestResidualPreservesShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, kind := range []BlockKind{BlockConv, BlockLinear} {
		r, err := BuildResidual("b", BlockSpec{Kind: kind, Width: 4, OutReLU: true}, rng)
		if err != nil {
			t.Fatal(err)
		}
		x := randomTensor(rng, -1, 1, 2, 4, 8)
		if kind == BlockLinear {
			x = randomTensor(rng, -1, 1, 2, 4)
		}
		out, err := r.Forward(nil, x)
		if err != nil {
			t.Fatalf("%v: %v", kind, err)
		}
		if !SameShape(out, x) {
			t.Errorf("%v: shape %v, want %v", kind, out.Shape, x.Shape)
		}
		for i, v := range out.Data {
			if v < 0 {
				t.Fatalf("%v: out[%d] = %v is negative after relu", kind, i, v)
			}
		}
	}
}

func TestResidualShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := &Residual{
		Layer1:  Conv3("r.layer1", 4, 4, rng),
		Layer2:  Conv3("r.layer2", 4, 2, rng),
		OutReLU: true,
	}
	_, err := r.Forward(nil, NewTensor(1, 4, 4))
	if !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestResidualWithoutOutReLUCanBeNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r, _ := BuildResidual("b", BlockSpec{Kind: BlockLinear, Width: 3}, rng)
	ZeroGrads(r.Params())
	for _, p := range r.Params() {
		for i := range p.Data {
			p.Data[i] = 0
		}
	}
	x := NewTensorFromSlice([]float32{-1, 2, -3}, 1, 3)
	out, err := r.Forward(nil, x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range x.Data {
		if out.Data[i] != x.Data[i] {
			t.Errorf("zero branch: out[%d] = %v, want %v", i, out.Data[i], x.Data[i])
		}
	}
}

func TestEmbeddingPadRow(t *testing.T) {
	const pad = 7
	e := NewEmbedding("emb", 16, 4, pad, rand.New(rand.NewSource(1)))
	for d := 0; d < 4; d++ {
		if e.Weight.Data[pad*4+d] != 0 {
			t.Fatalf("pad row not zero at init")
		}
	}

	tape := NewTape()
	out, err := e.Forward(tape, [][]byte{{1, 7, 0, 7}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape[1] != 4 || out.Shape[2] != 4 {
		t.Fatalf("shape %v, want [1 4 4]", out.Shape)
	}
	g := NewTensor(out.Shape...)
	for i := range g.Data {
		g.Data[i] = 1
	}
	if _, err := tape.Backward(g); err != nil {
		t.Fatal(err)
	}
	for d := 0; d < 4; d++ {
		if e.Weight.Grad[pad*4+d] != 0 {
			t.Errorf("pad row received gradient %v", e.Weight.Grad[pad*4+d])
		}
		if e.Weight.Grad[1*4+d] != 1 {
			t.Errorf("row 1 grad = %v, want 1", e.Weight.Grad[1*4+d])
		}
	}
}

func TestEmbeddingRejectsOutOfVocabulary(t *testing.T) {
	e := NewEmbedding("emb", 8, 4, 7, rand.New(rand.NewSource(1)))
	if _, err := e.Forward(nil, [][]byte{{200}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestBuildNamesParameters(t *testing.T) {
	seq, err := Build("encoder.prefix", ResidualSpecs(BlockConv, 4, 2, true), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"encoder.prefix.0.layer1.weight",
		"encoder.prefix.0.layer2.weight",
		"encoder.prefix.1.layer1.weight",
		"encoder.prefix.1.layer2.weight",
	}
	ps := seq.Params()
	if len(ps) != len(want) {
		t.Fatalf("%d params, want %d", len(ps), len(want))
	}
	for i, p := range ps {
		if p.Name != want[i] {
			t.Errorf("param %d = %q, want %q", i, p.Name, want[i])
		}
	}
}

func TestResidualSpecsLastOutReLU(t *testing.T) {
	specs := ResidualSpecs(BlockLinear, 8, 3, false)
	for i, s := range specs {
		if s.OutReLU != (i < 2) {
			t.Errorf("spec %d OutReLU = %v", i, s.OutReLU)
		}
	}
	if len(ResidualSpecs(BlockConv, 8, 0, false)) != 0 {
		t.Error("zero count should give no specs")
	}
}

func TestReshapeKeepsBatch(t *testing.T) {
	x := NewTensor(2, 4, 3)
	tape := NewTape()
	out, err := Reshape{Shape: []int{12}}.Forward(tape, x)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Shape) != 2 || out.Shape[0] != 2 || out.Shape[1] != 12 {
		t.Errorf("shape %v, want [2 12]", out.Shape)
	}
	dx, err := tape.Backward(NewTensor(2, 12))
	if err != nil || !SameShape(dx, x) {
		t.Errorf("grad shape %v, err %v", dx.Shape, err)
	}
}
