package bytecnn

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfluke/bytecnn/dataset"
	"github.com/openfluke/bytecnn/nn"
)

func newModel(t *testing.T, n, emsize int) *ByteCNN {
	t.Helper()
	m, err := New(Options{N: n, EmSize: emsize}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// smallBatch fills rows of length l with symbols below 16, ending in EOS and PAD.
func smallBatch(rows, l int, rng *rand.Rand) dataset.Batch {
	b := make(dataset.Batch, rows)
	for i := range b {
		b[i] = make([]byte, l)
		content := 1 + rng.Intn(l-1)
		for j := 0; j < content; j++ {
			sym := byte(1 + rng.Intn(15))
			if sym == dataset.PAD {
				sym = 8
			}
			b[i][j] = sym
		}
		b[i][content] = dataset.EOS
		for j := content + 1; j < l; j++ {
			b[i][j] = dataset.PAD
		}
	}
	return b
}

func TestNumRecurrences(t *testing.T) {
	for l, want := range map[int]int{1: 0, 4: 2, 8: 3, 64: 6, 1024: 10} {
		got, err := NumRecurrences(l)
		if err != nil || got != want {
			t.Errorf("NumRecurrences(%d) = %d, %v; want %d", l, got, err, want)
		}
	}
	_, err := NumRecurrences(100)
	if !errors.Is(err, nn.ErrConfiguration) || !errors.Is(err, nn.ErrShape) {
		t.Errorf("NumRecurrences(100) error = %v", err)
	}
}

func TestOptionsValidation(t *testing.T) {
	for _, o := range []Options{{N: 3, EmSize: 16}, {N: 0, EmSize: 16}, {N: 2, EmSize: 4}} {
		if _, err := New(o, rand.New(rand.NewSource(1))); !errors.Is(err, nn.ErrConfiguration) {
			t.Errorf("New(%+v): %v", o, err)
		}
	}
}

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions("n=4, emsize=32")
	if err != nil || o.N != 4 || o.EmSize != 32 {
		t.Errorf("ParseOptions = %+v, %v", o, err)
	}
	if o.String() != "n=4,emsize=32" {
		t.Errorf("String() = %q", o.String())
	}
	if d, err := ParseOptions(""); err != nil || d != DefaultOptions() {
		t.Errorf("empty kwargs = %+v, %v", d, err)
	}
	for _, bad := range []string{"depth=3", "n=x", "n", "n=5"} {
		if _, err := ParseOptions(bad); !errors.Is(err, nn.ErrConfiguration) {
			t.Errorf("ParseOptions(%q): %v", bad, err)
		}
	}
}

func TestEncodeDecodeHi(t *testing.T) {
	m := newModel(t, 2, 128)
	batch := dataset.Batch{dataset.Encode("hi")}
	if batch.Len() != 4 {
		t.Fatalf("encoded length %d", batch.Len())
	}

	r, _ := NumRecurrences(batch.Len())
	if r != 2 {
		t.Fatalf("r = %d, want 2", r)
	}
	latent, err := m.Encoder.Encode(nil, batch, r)
	if err != nil {
		t.Fatal(err)
	}
	if latent.Shape[0] != 1 || latent.Shape[1] != 4*128 {
		t.Errorf("latent shape %v, want [1 512]", latent.Shape)
	}
	logits, err := m.Decoder.Decode(nil, latent, r)
	if err != nil {
		t.Fatal(err)
	}
	if logits.Shape[0] != 1 || logits.Shape[1] != 128 || logits.Shape[2] != 4 {
		t.Errorf("logits shape %v, want [1 128 4]", logits.Shape)
	}
}

func TestShapesAcrossDepths(t *testing.T) {
	m := newModel(t, 2, 16)
	rng := rand.New(rand.NewSource(2))
	for r := 2; r <= 5; r++ {
		l := 1 << r
		batch := smallBatch(3, l, rng)
		latent, err := m.Encoder.Encode(nil, batch, r)
		if err != nil {
			t.Fatalf("r=%d: %v", r, err)
		}
		if latent.Shape[0] != 3 || latent.Shape[1] != 64 {
			t.Errorf("r=%d: latent shape %v, want [3 64]", r, latent.Shape)
		}
		logits, err := m.Forward(nil, batch)
		if err != nil {
			t.Fatalf("r=%d: %v", r, err)
		}
		if logits.Shape[1] != 16 || logits.Shape[2] != l {
			t.Errorf("r=%d: logits shape %v", r, logits.Shape)
		}
	}
}

func TestEncodeRejectsBadDepth(t *testing.T) {
	m := newModel(t, 2, 16)
	batch := smallBatch(1, 8, rand.New(rand.NewSource(1)))
	if _, err := m.Encoder.Encode(nil, batch, 2); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("mismatched depth: %v", err)
	}
	short := dataset.Batch{{1, dataset.EOS}}
	if _, err := m.Forward(nil, short); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("length 2: %v", err)
	}
	odd := dataset.Batch{make([]byte, 12)}
	if _, err := m.Forward(nil, odd); !errors.Is(err, nn.ErrShape) {
		t.Errorf("length 12: %v", err)
	}
}

func TestSymbolOutsideVocabulary(t *testing.T) {
	m := newModel(t, 2, 16)
	if _, err := m.Forward(nil, dataset.Batch{dataset.Encode("hi")}); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestParameterNames(t *testing.T) {
	m := newModel(t, 4, 16)
	names := make(map[string]bool)
	for _, p := range m.NamedParams() {
		if names[p.Name] {
			t.Errorf("duplicate parameter %s", p.Name)
		}
		names[p.Name] = true
	}
	for _, want := range []string{
		"encoder.embedding.weight",
		"encoder.prefix.1.layer2.weight",
		"encoder.recurrent.0.layer1.weight",
		"encoder.postfix.1.layer2.bias",
		"decoder.prefix.0.layer1.weight",
		"decoder.recurrent.0.conv1d.weight",
		"decoder.recurrent.2.weight",
		"decoder.recurrent.4.layer1.weight",
		"decoder.postfix.1.layer2.weight",
	} {
		if !names[want] {
			t.Errorf("missing parameter %s", want)
		}
	}
	if !strings.Contains(m.Summary(), "Total parameters:") {
		t.Error("summary has no total")
	}
}

type recordingLogger struct {
	batches []int
	metrics []Metrics
}

func (l *recordingLogger) TrainLog(batch int, metrics Metrics, _ func() []*nn.Param) error {
	l.batches = append(l.batches, batch)
	l.metrics = append(l.metrics, metrics)
	return nil
}

func TestTrainOnReducesLoss(t *testing.T) {
	m := newModel(t, 2, 16)
	batch := smallBatch(4, 8, rand.New(rand.NewSource(3)))
	opt, err := nn.NewOptimizer("adam", m.NamedParams(), 0.01, nil)
	if err != nil {
		t.Fatal(err)
	}
	batches := make([]dataset.Batch, 40)
	for i := range batches {
		batches[i] = batch
	}
	logger := &recordingLogger{}
	losses, errs, err := m.TrainOn(context.Background(), batches, opt, logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(losses) != 40 || len(errs) != 40 || len(logger.batches) != 40 {
		t.Fatalf("got %d losses, %d errs, %d log calls", len(losses), len(errs), len(logger.batches))
	}
	if losses[len(losses)-1] >= losses[0] {
		t.Errorf("loss did not decrease: %v -> %v", losses[0], losses[len(losses)-1])
	}
	if acc := logger.metrics[0]["acc"]; acc != 100-errs[0] {
		t.Errorf("logged acc %v, want %v", acc, 100-errs[0])
	}
}

func TestTrainOnCancelled(t *testing.T) {
	m := newModel(t, 2, 16)
	opt, _ := nn.NewOptimizer("sgd", m.NamedParams(), 0.1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	losses, _, err := m.TrainOn(ctx, []dataset.Batch{smallBatch(2, 4, rand.New(rand.NewSource(1)))}, opt, nil)
	if !errors.Is(err, context.Canceled) || len(losses) != 0 {
		t.Errorf("got %d losses and %v", len(losses), err)
	}
}

func TestEvalOnPoolsErrors(t *testing.T) {
	m := newModel(t, 2, 16)
	rng := rand.New(rand.NewSource(4))
	a, b := smallBatch(2, 4, rng), smallBatch(5, 16, rng)

	ma, err := m.EvalOn([]dataset.Batch{a})
	if err != nil {
		t.Fatal(err)
	}
	mb, _ := m.EvalOn([]dataset.Batch{b})
	both, _ := m.EvalOn([]dataset.Batch{a, b})

	wantLoss := (ma["loss"] + mb["loss"]) / 2
	if diff := both["loss"] - wantLoss; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("loss %v, want mean of batch losses %v", both["loss"], wantLoss)
	}
	if both["acc"] < 0 || both["acc"] > 100 {
		t.Errorf("acc %v out of range", both["acc"])
	}
	if _, err := m.EvalOn(nil); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("no batches: %v", err)
	}
}

func TestRenderPrediction(t *testing.T) {
	tests := []struct {
		pred []byte
		want string
	}{
		{[]byte{72, 73, 0, 7}, "HI"},
		{[]byte{72, 73}, "HI"},
		{[]byte{0, 72}, ""},
		{[]byte{0xff, 'a', 0}, "�a"},
	}
	for _, tc := range tests {
		if got := RenderPrediction(tc.pred); got != tc.want {
			t.Errorf("RenderPrediction(%v) = %q, want %q", tc.pred, got, tc.want)
		}
	}
}

func TestTryOnOneStringPerRow(t *testing.T) {
	m := newModel(t, 2, 16)
	rng := rand.New(rand.NewSource(5))
	out, err := m.TryOn([]dataset.Batch{smallBatch(2, 4, rng), smallBatch(3, 8, rng)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 {
		t.Errorf("%d strings, want 5", len(out))
	}
}

// cpuAccel computes the convolution directly, standing in for a GPU.
type cpuAccel struct{ calls int }

func (a *cpuAccel) Conv1DForward(x, w []float32, batch, inC, outC, seqLen, k, pad int) ([]float32, error) {
	a.calls++
	outLen := seqLen + 2*pad - k + 1
	out := make([]float32, batch*outC*outLen)
	for b := 0; b < batch; b++ {
		for o := 0; o < outC; o++ {
			for t := 0; t < outLen; t++ {
				var sum float32
				for c := 0; c < inC; c++ {
					for j := 0; j < k; j++ {
						if p := t + j - pad; p >= 0 && p < seqLen {
							sum += w[(o*inC+c)*k+j] * x[(b*inC+c)*seqLen+p]
						}
					}
				}
				out[(b*outC+o)*outLen+t] = sum
			}
		}
	}
	return out, nil
}

func TestUseAccelerator(t *testing.T) {
	m := newModel(t, 2, 16)
	batch := smallBatch(2, 8, rand.New(rand.NewSource(6)))
	want, err := m.Forward(nil, batch)
	if err != nil {
		t.Fatal(err)
	}

	accel := &cpuAccel{}
	m.UseAccelerator(accel)
	got, err := m.Forward(nil, batch)
	if err != nil {
		t.Fatal(err)
	}
	if accel.calls == 0 {
		t.Fatal("accelerator never used")
	}
	for i := range want.Data {
		d := want.Data[i] - got.Data[i]
		if d > 1e-3 || d < -1e-3 {
			t.Fatalf("logit %d: %v vs %v", i, want.Data[i], got.Data[i])
		}
	}

	m.UseAccelerator(nil)
	calls := accel.calls
	if _, err := m.Forward(nil, batch); err != nil || accel.calls != calls {
		t.Errorf("accelerator still used after reset")
	}
}

func writeModelDir(t *testing.T, m *ByteCNN, info string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, InfoFile), []byte(info), 0644); err != nil {
		t.Fatal(err)
	}
	if err := nn.SaveSafetensors(filepath.Join(dir, StateFile), m.StateDict()); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadRoundTrip(t *testing.T) {
	m := newModel(t, 2, 16)
	dir := writeModelDir(t, m, m.Info().String())
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Opts != m.Opts {
		t.Errorf("options %+v, want %+v", loaded.Opts, m.Opts)
	}
	want, got := m.NamedParams(), loaded.NamedParams()
	for i := range want {
		for j := range want[i].Data {
			if want[i].Data[j] != got[i].Data[j] {
				t.Fatalf("%s differs after load", want[i].Name)
			}
		}
	}
}

func TestLoadDescriptorErrors(t *testing.T) {
	m := newModel(t, 2, 16)
	tests := []struct {
		info string
		want error
	}{
		{"model_class=ByteCNN\nmodel_kwargs=n=2,emsize=16\nextra=1\n", nn.ErrConfiguration},
		{"model_class=ByteCNN\n", nn.ErrConfiguration},
		{"model_class=Other\nmodel_kwargs=n=2,emsize=16\n", nn.ErrValidation},
		{"model_class=ByteCNN\nmodel_kwargs=n=4,emsize=16\n", nn.ErrConfiguration},
		{"model_class=ByteCNN\nmodel_kwargs=n=2,emsize=32\n", nn.ErrShape},
	}
	for _, tc := range tests {
		dir := writeModelDir(t, m, tc.info)
		if _, err := Load(dir); !errors.Is(err, tc.want) {
			t.Errorf("%q: got %v, want %v", tc.info, err, tc.want)
		}
	}
	if _, err := Load(t.TempDir()); !errors.Is(err, nn.ErrIO) {
		t.Errorf("empty dir: %v", err)
	}
}
