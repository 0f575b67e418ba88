package train

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/openfluke/bytecnn/bytecnn"
	"github.com/openfluke/bytecnn/dataset"
	"github.com/openfluke/bytecnn/gpu"
	"github.com/openfluke/bytecnn/nn"
	"github.com/openfluke/bytecnn/parallel"
	"github.com/openfluke/bytecnn/runlog"
)

// Result summarizes a finished run.
type Result struct {
	RunID         string
	Epochs        int // last completed epoch
	BestValidLoss float64
	Valid, Test   bytecnn.Metrics
	Samples       []string // decoded sample after each completed epoch
	Interrupted   bool
}

// Resume loads the run saved in dir and applies overrides to its
// configuration. The run continues writing to dir.
func Resume(dir, overrides string) (Config, *runlog.TrainingState, error) {
	st, err := runlog.LoadTrainingState(dir)
	if err != nil {
		return Config{}, nil, err
	}
	var cfg Config
	if err := json.Unmarshal(st.Config, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("decode saved config: %v: %w", err, nn.ErrValidation)
	}
	if cfg, err = ApplyOverrides(cfg, overrides); err != nil {
		return Config{}, nil, err
	}
	cfg.LogDir = dir
	return cfg, st, nil
}

// epochSeed derives the shuffle seed of one epoch, so a resumed run sees the
// same batches as an uninterrupted one.
func epochSeed(seed int64, epoch int) int64 {
	return seed*1_000_003 + int64(epoch)
}

// Run trains a model as configured. A non-nil state resumes after its last
// completed epoch. Cancelling ctx stops training between batches; the best
// saved model is then evaluated on the test set as after a full run.
func Run(ctx context.Context, cfg Config, state *runlog.TrainingState) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := bytecnn.ParseOptions(cfg.ModelKwargs)
	if err != nil {
		return nil, err
	}
	corpus, err := dataset.LoadCorpus(cfg.Data, dataset.WithMinLength(cfg.MinLength))
	if err != nil {
		return nil, err
	}
	if sym := corpus.MaxSymbol(); int(sym) >= opts.EmSize {
		return nil, fmt.Errorf("%s contains byte 0x%02x outside emsize=%d: %w", cfg.Data, sym, opts.EmSize, nn.ErrConfiguration)
	}

	model, err := bytecnn.New(opts, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, err
	}
	opt, err := NewOptimizer(cfg, model.NamedParams())
	if err != nil {
		return nil, err
	}
	schedule, err := NewSchedule(cfg)
	if err != nil {
		return nil, err
	}
	sched := nn.NewLambdaLR(opt, schedule)

	logOpts := runlog.Options{
		LogInterval: cfg.LogInterval,
		LogWeights:  cfg.LogWeights,
		LogGrads:    cfg.LogGrads,
		Store:       cfg.Store,
		Config:      cfg,
	}
	startEpoch, bestValid := 1, math.Inf(1)
	if state != nil {
		logOpts.RunID = state.RunID
		logOpts.History = state.History
		startEpoch, bestValid = state.Epoch+1, state.BestValidLoss
	}
	logger, err := runlog.New(ctx, cfg.LogDir, logOpts)
	if err != nil {
		return nil, err
	}
	defer logger.Close()

	if state != nil {
		saved, err := logger.LoadModelState(true)
		if err != nil {
			return nil, err
		}
		if err := model.LoadStateDict(saved); err != nil {
			return nil, err
		}
		var prev Config
		if err := json.Unmarshal(state.Config, &prev); err != nil {
			return nil, fmt.Errorf("decode saved config: %v: %w", err, nn.ErrValidation)
		}
		if prev.Optimizer == cfg.Optimizer && prev.OptimizerKwargs == cfg.OptimizerKwargs {
			if err := opt.LoadState(state.Optimizer); err != nil {
				return nil, err
			}
		} else {
			logger.Printf("Optimizer changed to %s(%s), starting from fresh optimizer state\n", cfg.Optimizer, cfg.OptimizerKwargs)
		}
		baseLR := state.BaseLR
		if prev.LR != cfg.LR {
			baseLR = cfg.LR
			logger.Printf("Forcing lr %g\n", cfg.LR)
		}
		sched.Restore(baseLR, state.Epoch)
		logger.Printf("Resuming run %s after epoch %d\n", logger.RunID, state.Epoch)
	} else {
		// The initial weights stand in for the best model until an epoch completes.
		if err := logger.SaveModelState(model.NamedParams(), false); err != nil {
			return nil, err
		}
	}

	logger.Printf("CPU: %s, %d workers\n", parallel.CPUSummary(), parallel.Workers())
	logger.Printf("%s", model.Summary())
	if err := logger.SaveModelInfo(model.Info()); err != nil {
		return nil, err
	}

	if cfg.GPU {
		accel, err := gpu.NewConv1DAccelerator()
		if err != nil {
			logger.Printf("GPU unavailable, evaluating on CPU: %v\n", err)
		} else {
			defer accel.Close()
			rep := accel.Report()
			logger.Printf("GPU: %s\n", rep)
			if err := rep.Save(filepath.Join(logger.Dir, runlog.GPUReportFile)); err != nil {
				logger.Printf("could not save GPU report: %v\n", err)
			}
			model.UseAccelerator(accel)
		}
	}

	validBatches, err := corpus.Valid.EvalBatches(cfg.EvalBatchSize)
	if err != nil {
		return nil, err
	}
	testBatches, err := corpus.Test.EvalBatches(cfg.EvalBatchSize)
	if err != nil {
		return nil, err
	}
	sample := dataset.SampleBatch(cfg.Sample, dataset.WithMinLength(cfg.MinLength))

	res := &Result{RunID: logger.RunID, Epochs: startEpoch - 1}
	for epoch := startEpoch; epoch <= cfg.Epochs; epoch++ {
		batches, err := corpus.Train.TrainBatches(cfg.BatchSize, rand.New(rand.NewSource(epochSeed(cfg.Seed, epoch))))
		if err != nil {
			return nil, err
		}
		logger.MarkEpochStart(epoch, len(batches), opt.LR())
		if _, _, err := model.TrainOn(ctx, batches, opt, logger); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Printf("Exiting from training early\n")
				res.Interrupted = true
				break
			}
			return nil, err
		}

		valid, err := model.EvalOn(validBatches)
		if err != nil {
			return nil, err
		}
		if err := logger.ValidLog(valid); err != nil {
			return nil, err
		}
		decoded, err := model.TryOn([]dataset.Batch{sample})
		if err != nil {
			return nil, err
		}
		logger.Printf("Sample: %q\n", decoded[0])
		res.Samples = append(res.Samples, decoded[0])

		if valid["loss"] < bestValid {
			bestValid = valid["loss"]
			if err := logger.SaveModelState(model.NamedParams(), false); err != nil {
				return nil, err
			}
		}
		sched.Step()
		res.Epochs = epoch

		if cfg.SaveState {
			if err := saveState(logger, model, opt, sched, cfg, epoch, bestValid); err != nil {
				return nil, err
			}
		}
	}
	res.BestValidLoss = bestValid

	if _, err := os.Stat(filepath.Join(cfg.LogDir, runlog.BestStateFile)); err == nil {
		best, err := logger.LoadModelState(false)
		if err != nil {
			return nil, err
		}
		if err := model.LoadStateDict(best); err != nil {
			return nil, err
		}
	}
	if res.Valid, err = model.EvalOn(validBatches); err != nil {
		return nil, err
	}
	if res.Test, err = model.EvalOn(testBatches); err != nil {
		return nil, err
	}
	if err := logger.FinalLog(map[string]bytecnn.Metrics{"valid": res.Valid, "test": res.Test}); err != nil {
		return nil, err
	}
	return res, nil
}

func saveState(logger *runlog.Logger, model *bytecnn.ByteCNN, opt nn.Optimizer, sched *nn.LambdaLR, cfg Config, epoch int, bestValid float64) error {
	if err := logger.SaveModelState(model.NamedParams(), true); err != nil {
		return err
	}
	if math.IsInf(bestValid, 0) || math.IsNaN(bestValid) {
		bestValid = math.MaxFloat64
	}
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return logger.SaveTrainingState(runlog.TrainingState{
		Epoch:         epoch,
		BestValidLoss: bestValid,
		BaseLR:        sched.BaseLR,
		Config:        rawCfg,
		Optimizer:     opt.State(),
		History:       logger.History(),
	})
}
