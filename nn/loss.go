package nn

import (
	"fmt"
	"math"
)

// CrossEntropy computes the mean softmax cross-entropy of logits
// [batch][classes][length] against per-position class targets, skipping
// positions whose target equals ignoreIndex. It also returns the gradient
// w.r.t. logits. A batch with no kept positions has zero loss and gradient.
func CrossEntropy(logits *Tensor, targets [][]byte, ignoreIndex int) (float64, *Tensor, error) {
	if err := checkTargets(logits, targets); err != nil {
		return 0, nil, err
	}
	batch, classes, seqLen := logits.Shape[0], logits.Shape[1], logits.Shape[2]
	grad := NewTensor(logits.Shape...)

	kept := 0
	for _, row := range targets {
		for _, t := range row {
			if int(t) != ignoreIndex {
				kept++
			}
		}
	}
	if kept == 0 {
		return 0, grad, nil
	}

	var total float64
	scale := 1 / float64(kept)
	probs := make([]float64, classes)
	for b := 0; b < batch; b++ {
		base := b * classes * seqLen
		for pos := 0; pos < seqLen; pos++ {
			target := int(targets[b][pos])
			if target == ignoreIndex {
				continue
			}
			if target >= classes {
				return 0, nil, fmt.Errorf("cross entropy: target %d outside %d classes: %w", target, classes, ErrConfiguration)
			}

			maxLogit := math.Inf(-1)
			for c := 0; c < classes; c++ {
				maxLogit = math.Max(maxLogit, float64(logits.Data[base+c*seqLen+pos]))
			}
			var sum float64
			for c := 0; c < classes; c++ {
				probs[c] = math.Exp(float64(logits.Data[base+c*seqLen+pos]) - maxLogit)
				sum += probs[c]
			}
			total += math.Log(sum) + maxLogit - float64(logits.Data[base+target*seqLen+pos])

			for c := 0; c < classes; c++ {
				p := probs[c] / sum
				if c == target {
					p--
				}
				grad.Data[base+c*seqLen+pos] = float32(p * scale)
			}
		}
	}
	return total * scale, grad, nil
}

// Argmax returns the highest-scoring class at every position of
// [batch][classes][length] logits.
func Argmax(logits *Tensor) [][]byte {
	batch, classes, seqLen := logits.Shape[0], logits.Shape[1], logits.Shape[2]
	out := make([][]byte, batch)
	for b := range out {
		base := b * classes * seqLen
		out[b] = make([]byte, seqLen)
		for pos := 0; pos < seqLen; pos++ {
			best := 0
			for c := 1; c < classes; c++ {
				if logits.Data[base+c*seqLen+pos] > logits.Data[base+best*seqLen+pos] {
					best = c
				}
			}
			out[b][pos] = byte(best)
		}
	}
	return out
}

// CountErrors compares predictions with targets at positions whose target is
// not ignoreIndex and returns the number of mismatches and of compared positions.
func CountErrors(predictions, targets [][]byte, ignoreIndex int) (errs, kept int) {
	for b, row := range targets {
		for pos, t := range row {
			if int(t) == ignoreIndex {
				continue
			}
			kept++
			if predictions[b][pos] != t {
				errs++
			}
		}
	}
	return errs, kept
}

func checkTargets(logits *Tensor, targets [][]byte) error {
	if len(logits.Shape) != 3 {
		return shapeError("cross entropy logits", logits.Shape, []int{-1, -1, -1})
	}
	if len(targets) != logits.Shape[0] {
		return fmt.Errorf("cross entropy: %d target rows for batch of %d: %w", len(targets), logits.Shape[0], ErrShape)
	}
	for i, row := range targets {
		if len(row) != logits.Shape[2] {
			return fmt.Errorf("cross entropy: target row %d has length %d, logits %d: %w", i, len(row), logits.Shape[2], ErrShape)
		}
	}
	return nil
}
