// Package bytecnn implements a byte-level convolutional text autoencoder.
//
// A sequence of 2^r bytes is embedded, passed through residual convolution
// blocks and squeezed by a weight-shared recurrent stage applied r-2 times
// down to four positions, then flattened into a fixed-size latent vector.
// The decoder mirrors this, doubling the length on each of its r-2 recurrent
// applications, and emits per-position logits over the byte vocabulary.
package bytecnn

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/openfluke/bytecnn/dataset"
	"github.com/openfluke/bytecnn/nn"
)

// ModelClass is the class name recorded in model.info.
const ModelClass = "ByteCNN"

// Metrics are named scalar results, "loss" and "acc" (percent).
type Metrics map[string]float64

// TrainLogger receives per-batch training metrics. namedParams is called
// only when the logger wants weight or gradient statistics.
type TrainLogger interface {
	TrainLog(batch int, metrics Metrics, namedParams func() []*nn.Param) error
}

// ByteCNN is the autoencoder: an Encoder and a Decoder trained end to end
// against a reconstruction loss that ignores PAD positions.
type ByteCNN struct {
	Opts    Options
	Encoder *Encoder
	Decoder *Decoder
}

// New builds a freshly initialized model.
func New(opts Options, rng *rand.Rand) (*ByteCNN, error) {
	enc, err := NewEncoder(opts, rng)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(opts, rng)
	if err != nil {
		return nil, err
	}
	return &ByteCNN{Opts: opts, Encoder: enc, Decoder: dec}, nil
}

// NamedParams returns every parameter with its dotted name, encoder first.
func (m *ByteCNN) NamedParams() []*nn.Param {
	return append(m.Encoder.Params(), m.Decoder.Params()...)
}

// Forward encodes and decodes batch, returning [N][emsize][L] logits.
func (m *ByteCNN) Forward(tape *nn.Tape, batch dataset.Batch) (*nn.Tensor, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch: %w", nn.ErrShape)
	}
	r, err := NumRecurrences(batch.Len())
	if err != nil {
		return nil, err
	}
	latent, err := m.Encoder.Encode(tape, batch, r)
	if err != nil {
		return nil, err
	}
	logits, err := m.Decoder.Decode(tape, latent, r)
	if err != nil {
		return nil, err
	}
	if logits.Dim(-1) != batch.Len() {
		return nil, fmt.Errorf("decoded length %d differs from input length %d: %w", logits.Dim(-1), batch.Len(), nn.ErrConfiguration)
	}
	return logits, nil
}

// batchResult is the outcome of one forward pass against its own input.
type batchResult struct {
	loss       float64
	grad       *nn.Tensor
	errs, kept int
}

func (m *ByteCNN) evaluate(tape *nn.Tape, batch dataset.Batch) (batchResult, error) {
	logits, err := m.Forward(tape, batch)
	if err != nil {
		return batchResult{}, err
	}
	loss, grad, err := nn.CrossEntropy(logits, batch, int(dataset.PAD))
	if err != nil {
		return batchResult{}, err
	}
	errs, kept := nn.CountErrors(nn.Argmax(logits), batch, int(dataset.PAD))
	return batchResult{loss: loss, grad: grad, errs: errs, kept: kept}, nil
}

func errorRate(errs, kept int) float64 {
	if kept == 0 {
		return 0
	}
	return 100 * float64(errs) / float64(kept)
}

// TrainOn runs one optimization step per batch, in order, and returns the
// per-batch losses and error rates (percent of non-PAD positions). ctx is
// checked before every batch; on cancellation the results so far are
// returned with ctx.Err().
func (m *ByteCNN) TrainOn(ctx context.Context, batches []dataset.Batch, opt nn.Optimizer, logger TrainLogger) ([]float64, []float64, error) {
	losses := make([]float64, 0, len(batches))
	errRates := make([]float64, 0, len(batches))
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return losses, errRates, err
		}
		opt.ZeroGrad()
		tape := nn.NewTape()
		res, err := m.evaluate(tape, batch)
		if err != nil {
			return losses, errRates, fmt.Errorf("train batch %d: %w", i, err)
		}
		if _, err := tape.Backward(res.grad); err != nil {
			return losses, errRates, fmt.Errorf("train batch %d backward: %w", i, err)
		}
		opt.Step()

		rate := errorRate(res.errs, res.kept)
		losses = append(losses, res.loss)
		errRates = append(errRates, rate)
		if logger != nil {
			if err := logger.TrainLog(i, Metrics{"loss": res.loss, "acc": 100 - rate}, m.NamedParams); err != nil {
				return losses, errRates, fmt.Errorf("train log: %w", err)
			}
		}
	}
	return losses, errRates, nil
}

// EvalOn measures the model without updating it. The loss is the mean of
// per-batch mean losses; the accuracy pools errors over all non-PAD positions.
func (m *ByteCNN) EvalOn(batches []dataset.Batch) (Metrics, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("evaluation needs at least one batch: %w", nn.ErrConfiguration)
	}
	var totalLoss float64
	var errs, kept int
	for i, batch := range batches {
		res, err := m.evaluate(nil, batch)
		if err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", i, err)
		}
		totalLoss += res.loss
		errs += res.errs
		kept += res.kept
	}
	return Metrics{
		"loss": totalLoss / float64(len(batches)),
		"acc":  100 - errorRate(errs, kept),
	}, nil
}

// TryOn decodes every sequence of batches to text, one string per row.
func (m *ByteCNN) TryOn(batches []dataset.Batch) ([]string, error) {
	var decoded []string
	for i, batch := range batches {
		logits, err := m.Forward(nil, batch)
		if err != nil {
			return nil, fmt.Errorf("try batch %d: %w", i, err)
		}
		for _, pred := range nn.Argmax(logits) {
			decoded = append(decoded, RenderPrediction(pred))
		}
	}
	return decoded, nil
}

// RenderPrediction cuts pred at its first EOS and returns the bytes as text,
// replacing invalid UTF-8 with U+FFFD.
func RenderPrediction(pred []byte) string {
	for i, b := range pred {
		if b == dataset.EOS {
			pred = pred[:i]
			break
		}
	}
	return strings.ToValidUTF8(string(pred), "�")
}

// StateDict snapshots every parameter by name.
func (m *ByteCNN) StateDict() map[string]nn.TensorWithShape {
	return nn.StateDict(m.NamedParams())
}

// LoadStateDict restores parameters; names and shapes must match exactly.
func (m *ByteCNN) LoadStateDict(state map[string]nn.TensorWithShape) error {
	return nn.LoadStateDict(m.NamedParams(), state)
}

// UseAccelerator routes inference convolutions through a; nil restores the
// CPU path. Training passes always run on the CPU.
func (m *ByteCNN) UseAccelerator(a nn.ConvAccelerator) {
	for _, c := range m.convs() {
		c.Accel = a
	}
}

func (m *ByteCNN) convs() []*nn.Conv1D {
	var out []*nn.Conv1D
	var walk func(l nn.Layer)
	walk = func(l nn.Layer) {
		switch v := l.(type) {
		case *nn.Conv1D:
			out = append(out, v)
		case *nn.ExpandConv1D:
			out = append(out, v.Conv)
		case *nn.Residual:
			walk(v.Layer1)
			walk(v.Layer2)
		case *nn.Sequential:
			for _, c := range v.Layers {
				walk(c)
			}
		}
	}
	for _, s := range []*nn.Sequential{m.Encoder.Prefix, m.Encoder.Recurrent, m.Decoder.Recurrent, m.Decoder.Postfix} {
		walk(s)
	}
	return out
}

// Summary lists every parameter with its shape and the total count.
func (m *ByteCNN) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s)\n", ModelClass, m.Opts)
	ps := m.NamedParams()
	for _, p := range ps {
		fmt.Fprintf(&b, "  %-40s %v\n", p.Name, p.Shape)
	}
	fmt.Fprintf(&b, "Total parameters: %d\n", nn.CountParams(ps))
	return b.String()
}
