package nn

import (
	"errors"
	"math"
	"testing"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	// uniform logits over 4 classes give log(4) at every kept position
	logits := NewTensor(1, 4, 3)
	loss, grad, err := CrossEntropy(logits, [][]byte{{1, 2, 3}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-6 {
		t.Errorf("loss = %v, want %v", loss, math.Log(4))
	}
	// ignored position has zero gradient
	for c := 0; c < 4; c++ {
		if grad.Data[c*3+2] != 0 {
			t.Errorf("ignored position grad[%d] = %v", c, grad.Data[c*3+2])
		}
	}
	// kept positions: (1/4 - onehot) / 2
	if g := grad.Data[1*3+0]; math.Abs(float64(g)-(-0.375)) > 1e-6 {
		t.Errorf("target grad = %v, want -0.375", g)
	}
	if g := grad.Data[0*3+0]; math.Abs(float64(g)-0.125) > 1e-6 {
		t.Errorf("other grad = %v, want 0.125", g)
	}
}

func TestCrossEntropyAllIgnored(t *testing.T) {
	logits := NewTensor(2, 8, 2)
	for i := range logits.Data {
		logits.Data[i] = float32(i)
	}
	loss, grad, err := CrossEntropy(logits, [][]byte{{7, 7}, {7, 7}}, 7)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 {
		t.Errorf("loss = %v, want 0", loss)
	}
	for i, g := range grad.Data {
		if g != 0 {
			t.Fatalf("grad[%d] = %v, want 0", i, g)
		}
	}
}

func TestCrossEntropyShapeErrors(t *testing.T) {
	logits := NewTensor(1, 4, 2)
	if _, _, err := CrossEntropy(logits, [][]byte{{1, 2, 3}}, 7); !errors.Is(err, ErrShape) {
		t.Errorf("row length mismatch: %v", err)
	}
	if _, _, err := CrossEntropy(logits, [][]byte{{1, 2}, {1, 2}}, 7); !errors.Is(err, ErrShape) {
		t.Errorf("batch mismatch: %v", err)
	}
	if _, _, err := CrossEntropy(logits, [][]byte{{1, 9}}, 7); !errors.Is(err, ErrConfiguration) {
		t.Errorf("target outside classes: %v", err)
	}
}

func TestArgmaxAndCountErrors(t *testing.T) {
	logits := NewTensor(1, 3, 3)
	// position 0 -> class 2, position 1 -> class 0, position 2 -> class 1
	logits.Data[2*3+0] = 1
	logits.Data[0*3+1] = 1
	logits.Data[1*3+2] = 1
	pred := Argmax(logits)
	want := []byte{2, 0, 1}
	for i, v := range want {
		if pred[0][i] != v {
			t.Errorf("pred[%d] = %d, want %d", i, pred[0][i], v)
		}
	}

	errs, kept := CountErrors(pred, [][]byte{{2, 1, 7}}, 7)
	if errs != 1 || kept != 2 {
		t.Errorf("CountErrors = (%d, %d), want (1, 2)", errs, kept)
	}
}
