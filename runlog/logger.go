// Package runlog records a training run: progress lines on the console,
// metric series in a run store, checkpoints and resumable training state in
// a log directory, and final results with loss curves.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/openfluke/bytecnn/bytecnn"
	"github.com/openfluke/bytecnn/nn"
	"github.com/openfluke/bytecnn/runstore"
)

// Files written to the log directory.
const (
	InfoFile          = bytecnn.InfoFile
	BestStateFile     = bytecnn.StateFile
	CurrentStateFile  = "model_current.safetensors"
	TrainingStateFile = "training_state.json"
	OptimizerFile     = "optimizer.safetensors"
	ResultsFile       = "results.json"
	MetricsDBFile     = "metrics.db"
	PlotFile          = "loss.png"
	GPUReportFile     = "gpu.json"
)

// Options configure a Logger.
type Options struct {
	// RunID continues an existing run; empty starts a new one.
	RunID       string
	LogInterval int
	LogWeights  bool
	LogGrads    bool
	// Store is the run store backend, "memory" or "sqlite" (metrics.db in the log directory).
	Store string
	// Config is recorded with the run.
	Config any
	// Out receives progress lines; nil means stdout.
	Out io.Writer
	// History seeds the epoch curves when resuming.
	History History
}

// History holds the per-epoch curves.
type History struct {
	TrainLoss []float64 `json:"train_loss"`
	ValidLoss []float64 `json:"valid_loss"`
	ValidAcc  []float64 `json:"valid_acc"`
}

// Logger implements bytecnn.TrainLogger and owns the log directory.
type Logger struct {
	Dir   string
	RunID string

	opts  Options
	out   io.Writer
	store runstore.Store

	epoch      int
	numBatches int
	lr         float64
	epochStart time.Time
	lastReport time.Time

	epochLosses []float64
	interval    []bytecnn.Metrics
	pending     []runstore.Record
	history     History
}

var _ bytecnn.TrainLogger = (*Logger)(nil)

// New creates dir if needed and opens the run store.
func New(ctx context.Context, dir string, opts Options) (*Logger, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory is required: %w", nn.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %v: %w", err, nn.ErrIO)
	}
	if opts.LogInterval < 1 {
		opts.LogInterval = 200
	}
	l := &Logger{Dir: dir, RunID: opts.RunID, opts: opts, out: opts.Out, history: opts.History}
	if l.out == nil {
		l.out = os.Stdout
	}
	if l.RunID == "" {
		l.RunID = uuid.NewString()
	}

	store, err := runstore.NewStore(opts.Store, filepath.Join(dir, MetricsDBFile))
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	l.store = store

	if _, ok, err := store.GetRun(ctx, l.RunID); err != nil {
		return nil, err
	} else if !ok {
		cfg, err := json.Marshal(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("encode run config: %w", err)
		}
		if err := store.SaveRun(ctx, runstore.Run{ID: l.RunID, Started: time.Now(), Config: string(cfg)}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Store exposes the run store.
func (l *Logger) Store() runstore.Store {
	return l.store
}

// History returns the epoch curves recorded so far.
func (l *Logger) History() History {
	return l.history
}

// Printf writes a line to the logger's output.
func (l *Logger) Printf(format string, args ...any) {
	fmt.Fprintf(l.out, format, args...)
}

// MarkEpochStart resets the per-epoch accumulators.
func (l *Logger) MarkEpochStart(epoch, numBatches int, lr float64) {
	l.epoch = epoch
	l.numBatches = numBatches
	l.lr = lr
	l.epochStart = time.Now()
	l.lastReport = l.epochStart
	l.epochLosses = l.epochLosses[:0]
	l.interval = l.interval[:0]
}

// TrainLog records one training batch and prints a progress line every
// LogInterval batches.
func (l *Logger) TrainLog(batch int, metrics bytecnn.Metrics, namedParams func() []*nn.Param) error {
	l.epochLosses = append(l.epochLosses, metrics["loss"])
	l.interval = append(l.interval, metrics)
	for _, name := range []string{"loss", "acc"} {
		l.pending = append(l.pending, runstore.Record{
			RunID: l.RunID, Split: "train", Epoch: l.epoch, Batch: batch, Name: name, Value: metrics[name],
		})
	}

	if batch%l.opts.LogInterval != 0 || batch == 0 {
		return nil
	}
	elapsed := time.Since(l.lastReport)
	var loss, acc []float64
	for _, m := range l.interval {
		loss = append(loss, m["loss"])
		acc = append(acc, m["acc"])
	}
	l.Printf("| epoch %3d | %5d/%5d batches | lr %02.6f | ms/batch %5.2f | loss %5.2f | acc %5.2f\n",
		l.epoch, batch, l.numBatches, l.lr,
		float64(elapsed.Milliseconds())/float64(len(l.interval)),
		stat.Mean(loss, nil), stat.Mean(acc, nil))
	l.interval = l.interval[:0]
	l.lastReport = time.Now()

	if namedParams != nil && (l.opts.LogWeights || l.opts.LogGrads) {
		for _, p := range namedParams() {
			if l.opts.LogWeights {
				l.pending = append(l.pending, l.summary(batch, "weights/"+p.Name, p.Data)...)
			}
			if l.opts.LogGrads {
				l.pending = append(l.pending, l.summary(batch, "grads/"+p.Name, p.Grad)...)
			}
		}
	}
	return l.flush()
}

// summary condenses values into the mean, standard deviation and range
// records that stand in for a histogram.
func (l *Logger) summary(batch int, prefix string, values []float32) []runstore.Record {
	xs := make([]float64, len(values))
	for i, v := range values {
		xs[i] = float64(v)
	}
	s := Summarize(xs)
	rec := func(name string, v float64) runstore.Record {
		return runstore.Record{RunID: l.RunID, Split: "train", Epoch: l.epoch, Batch: batch, Name: prefix + "/" + name, Value: v}
	}
	return []runstore.Record{rec("mean", s.Mean), rec("std", s.Std), rec("min", s.Min), rec("max", s.Max)}
}

// Stats summarize a parameter or gradient tensor.
type Stats struct {
	Mean, Std, Min, Max float64
}

// Summarize computes Stats of xs; an empty slice gives zeros.
func Summarize(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		std = 0
	}
	return Stats{Mean: mean, Std: std, Min: floats.Min(xs), Max: floats.Max(xs)}
}

// ValidLog records the end-of-epoch validation metrics together with the
// epoch's mean training loss.
func (l *Logger) ValidLog(metrics bytecnn.Metrics) error {
	trainLoss := 0.0
	if len(l.epochLosses) > 0 {
		trainLoss = stat.Mean(l.epochLosses, nil)
	}
	l.history.TrainLoss = append(l.history.TrainLoss, trainLoss)
	l.history.ValidLoss = append(l.history.ValidLoss, metrics["loss"])
	l.history.ValidAcc = append(l.history.ValidAcc, metrics["acc"])

	l.Printf("%s\n", separator)
	l.Printf("| end of epoch %3d | time: %5.2fs | valid loss %5.2f | valid acc %5.2f\n",
		l.epoch, time.Since(l.epochStart).Seconds(), metrics["loss"], metrics["acc"])
	l.Printf("%s\n", separator)

	for _, name := range []string{"loss", "acc"} {
		l.pending = append(l.pending, runstore.Record{
			RunID: l.RunID, Split: "valid", Epoch: l.epoch, Batch: -1, Name: name, Value: metrics[name],
		})
	}
	l.pending = append(l.pending, runstore.Record{
		RunID: l.RunID, Split: "train", Epoch: l.epoch, Batch: -1, Name: "epoch_loss", Value: trainLoss,
	})
	return l.flush()
}

const separator = "-----------------------------------------------------------------------------------------"

// FinalLog writes results.json, stores the results and draws the epoch curves.
func (l *Logger) FinalLog(results map[string]bytecnn.Metrics) error {
	encoded := make(map[string]map[string]number, len(results))
	for split, m := range results {
		encoded[split] = metricNumbers(m)
	}
	doc := struct {
		RunID   string                       `json:"run_id"`
		Results map[string]map[string]number `json:"results"`
		History History                      `json:"history"`
	}{l.RunID, encoded, l.history}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.Dir, ResultsFile), data, 0644); err != nil {
		return fmt.Errorf("write results: %v: %w", err, nn.ErrIO)
	}

	for split, m := range results {
		for name, v := range m {
			l.pending = append(l.pending, runstore.Record{RunID: l.RunID, Split: split, Epoch: l.epoch, Batch: -1, Name: name, Value: v})
		}
		l.Printf("| End of training | %s loss %5.2f | %s acc %5.2f\n", split, m["loss"], split, m["acc"])
	}
	if err := l.flush(); err != nil {
		return err
	}
	if len(l.history.TrainLoss) > 0 {
		if err := PlotHistory(l.history, filepath.Join(l.Dir, PlotFile)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) flush() error {
	if len(l.pending) == 0 {
		return nil
	}
	if err := l.store.AppendMetrics(context.Background(), l.pending); err != nil {
		return fmt.Errorf("store metrics: %w", err)
	}
	l.pending = l.pending[:0]
	return nil
}

// Close flushes pending metrics and closes the store.
func (l *Logger) Close() error {
	err := l.flush()
	if cerr := l.store.Close(); err == nil {
		err = cerr
	}
	return err
}
