// Command bytecnn trains the byte-level convolutional text autoencoder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/openfluke/bytecnn/nn"
	"github.com/openfluke/bytecnn/runlog"
	"github.com/openfluke/bytecnn/train"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, nn.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// invocation is the parsed command line.
type invocation struct {
	cfg       train.Config
	resumeDir string
	forceArgs string
}

func parseFlags(args []string) (invocation, error) {
	def := train.DefaultConfig()
	var inv invocation

	fs := flag.NewFlagSet("bytecnn", flag.ContinueOnError)
	fs.StringVar(&inv.resumeDir, "resume-training", "", "path to a training directory (loads the model and the optimizer)")
	fs.StringVar(&inv.forceArgs, "resume-training-force-args", "", "config keys overwritten when resuming, e.g. epochs=60 (use ';' inside kwargs values)")
	data := fs.String("data", def.Data, "dataset prefix; <prefix>train.txt, valid.txt and test.txt are read")
	model := fs.String("model", def.Model, "model class")
	modelKwargs := fs.String("model-kwargs", def.ModelKwargs, "model kwargs, e.g. n=8,emsize=256")
	lr := fs.Float64("lr", def.LR, "initial learning rate")
	schedule := fs.String("lr-schedule", def.LRSchedule, "learning rate schedule: none|step:E:G|exp:G|cosine:E:MIN|poly:E:P")
	epochs := fs.Int("epochs", def.Epochs, "upper epoch limit")
	batchSize := fs.Int("batch-size", def.BatchSize, "batch size")
	evalBatchSize := fs.Int("eval-batch-size", def.EvalBatchSize, "evaluation batch size")
	optimizer := fs.String("optimizer", def.Optimizer, "optimization method: sgd|adam|adagrad|adadelta")
	optimizerKwargs := fs.String("optimizer-kwargs", def.OptimizerKwargs, "kwargs for the optimizer (e.g. momentum=0.9)")
	seed := fs.Int64("seed", def.Seed, "random seed")
	useGPU := fs.Bool("gpu", def.GPU, "run evaluation convolutions on a WebGPU device")
	saveState := fs.Bool("save-state", def.SaveState, "save training state after each epoch")
	logInterval := fs.Int("log-interval", def.LogInterval, "report interval in batches")
	logDir := fs.String("logdir", def.LogDir, "directory for checkpoints, metrics and results (default runs/<timestamp>)")
	logWeights := fs.Bool("log-weights", def.LogWeights, "log weight summaries")
	logGrads := fs.Bool("log-grads", def.LogGrads, "log gradient summaries")
	store := fs.String("store", def.Store, "metric store backend: memory|sqlite")
	minLength := fs.Int("min-length", def.MinLength, "minimum padded sequence length (power of two, at least 4)")
	sample := fs.String("sample", def.Sample, "sentence decoded after every epoch")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return inv, err
		}
		return inv, fmt.Errorf("%v: %w", err, nn.ErrConfiguration)
	}
	if fs.NArg() > 0 {
		return inv, fmt.Errorf("unexpected arguments %v: %w", fs.Args(), nn.ErrConfiguration)
	}

	inv.cfg = train.Config{
		Data:            *data,
		Model:           *model,
		ModelKwargs:     *modelKwargs,
		LR:              *lr,
		LRSchedule:      *schedule,
		Epochs:          *epochs,
		BatchSize:       *batchSize,
		EvalBatchSize:   *evalBatchSize,
		Optimizer:       *optimizer,
		OptimizerKwargs: *optimizerKwargs,
		Seed:            *seed,
		GPU:             *useGPU,
		SaveState:       *saveState,
		LogInterval:     *logInterval,
		LogDir:          *logDir,
		LogWeights:      *logWeights,
		LogGrads:        *logGrads,
		Store:           *store,
		MinLength:       *minLength,
		Sample:          *sample,
	}
	if inv.cfg.LogDir == "" {
		inv.cfg.LogDir = filepath.Join("runs", time.Now().Format("20060102-150405"))
	}
	if inv.forceArgs != "" && inv.resumeDir == "" {
		return inv, fmt.Errorf("-resume-training-force-args requires -resume-training: %w", nn.ErrConfiguration)
	}
	return inv, nil
}

func run(ctx context.Context, args []string) error {
	inv, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg := inv.cfg
	var state *runlog.TrainingState
	if inv.resumeDir != "" {
		if cfg, state, err = train.Resume(inv.resumeDir, inv.forceArgs); err != nil {
			return err
		}
	}

	res, err := train.Run(ctx, cfg, state)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d epochs, test loss %.4f, test acc %.2f\n", res.RunID, res.Epochs, res.Test["loss"], res.Test["acc"])
	return nil
}
