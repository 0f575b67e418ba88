// Package train drives a ByteCNN training run: configuration, optimizer and
// schedule construction, the epoch loop with checkpointing, resume and the
// final evaluation.
package train

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/openfluke/bytecnn/bytecnn"
	"github.com/openfluke/bytecnn/dataset"
	"github.com/openfluke/bytecnn/nn"
)

// Config is the immutable description of a run. It is persisted with the
// training state and restored on resume.
type Config struct {
	Data            string  `json:"data"`
	Model           string  `json:"model"`
	ModelKwargs     string  `json:"model_kwargs"`
	LR              float64 `json:"lr"`
	LRSchedule      string  `json:"lr_schedule"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	EvalBatchSize   int     `json:"eval_batch_size"`
	Optimizer       string  `json:"optimizer"`
	OptimizerKwargs string  `json:"optimizer_kwargs"`
	Seed            int64   `json:"seed"`
	GPU             bool    `json:"gpu"`
	SaveState       bool    `json:"save_state"`
	LogInterval     int     `json:"log_interval"`
	LogDir          string  `json:"logdir"`
	LogWeights      bool    `json:"log_weights"`
	LogGrads        bool    `json:"log_grads"`
	Store           string  `json:"store"`
	MinLength       int     `json:"min_length"`
	Sample          string  `json:"sample"`
}

// DefaultConfig returns the defaults of the command line.
func DefaultConfig() Config {
	return Config{
		Data:            "./data/ptb.",
		Model:           bytecnn.ModelClass,
		LR:              0.001,
		LRSchedule:      "step:10:0.5",
		Epochs:          40,
		BatchSize:       128,
		EvalBatchSize:   10,
		Optimizer:       "sgd",
		OptimizerKwargs: "momentum=0.9,weight_decay=0.00001",
		Seed:            1111,
		LogInterval:     200,
		Store:           "sqlite",
		MinLength:       4,
		Sample:          dataset.DefaultSample,
	}
}

// Validate checks everything that can be checked without touching files.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("config: "+format+": %w", append(args, nn.ErrConfiguration)...)
	}
	switch {
	case c.Model != bytecnn.ModelClass:
		return bad("unknown model %q", c.Model)
	case c.Epochs < 1:
		return bad("epochs=%d", c.Epochs)
	case c.BatchSize < 1 || c.EvalBatchSize < 1:
		return bad("batch sizes %d/%d", c.BatchSize, c.EvalBatchSize)
	case !slices.Contains(nn.OptimizerNames, c.Optimizer):
		return bad("unknown optimizer %q", c.Optimizer)
	case c.LR <= 0:
		return bad("lr=%g", c.LR)
	case c.LogInterval < 1:
		return bad("log_interval=%d", c.LogInterval)
	case c.MinLength < 4:
		return bad("min_length=%d is below 4", c.MinLength)
	case c.LogDir == "":
		return bad("logdir is required")
	}
	opts, err := bytecnn.ParseOptions(c.ModelKwargs)
	if err != nil {
		return err
	}
	for i := 0; i < len(c.Sample); i++ {
		if int(c.Sample[i]) >= opts.EmSize {
			return bad("sample byte 0x%02x at %d is outside emsize=%d", c.Sample[i], i, opts.EmSize)
		}
	}
	if _, err := ParseKwargs(c.OptimizerKwargs); err != nil {
		return err
	}
	if _, err := nn.ParseSchedule(c.LRSchedule); err != nil {
		return err
	}
	return nil
}

// ParseKwargs reads "k=v,..." into numbers; true and false map to 1 and 0.
func ParseKwargs(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("kwarg %q is not key=value: %w", kv, nn.ErrConfiguration)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch strings.ToLower(v) {
		case "true":
			out[k] = 1
		case "false":
			out[k] = 0
		default:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("kwarg %s: %v: %w", k, err, nn.ErrConfiguration)
			}
			out[k] = f
		}
	}
	return out, nil
}

// ApplyOverrides returns c with "key=value,..." assignments applied. Keys are
// the JSON field names; dashes are accepted for underscores. Values that
// contain commas (kwargs strings) use ';' in place of ','.
func ApplyOverrides(c Config, overrides string) (Config, error) {
	if strings.TrimSpace(overrides) == "" {
		return c, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return c, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return c, err
	}

	var unknown []string
	for _, kv := range strings.Split(overrides, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return c, fmt.Errorf("override %q is not key=value: %w", kv, nn.ErrConfiguration)
		}
		k = strings.ReplaceAll(strings.TrimSpace(k), "-", "_")
		v = strings.TrimSpace(v)
		switch cur := fields[k].(type) {
		case nil:
			unknown = append(unknown, k)
		case json.Number:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return c, fmt.Errorf("override %s: %v: %w", k, err, nn.ErrConfiguration)
			}
			fields[k] = json.Number(v)
		case bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return c, fmt.Errorf("override %s: %v: %w", k, err, nn.ErrConfiguration)
			}
			fields[k] = b
		case string:
			fields[k] = strings.ReplaceAll(v, ";", ",")
		default:
			return c, fmt.Errorf("override %s: unsupported field type %T: %w", k, cur, nn.ErrConfiguration)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return c, fmt.Errorf("unknown config keys %s: %w", strings.Join(unknown, ", "), nn.ErrConfiguration)
	}

	raw, err = json.Marshal(fields)
	if err != nil {
		return c, err
	}
	var out Config
	if err := json.Unmarshal(raw, &out); err != nil {
		return c, fmt.Errorf("apply overrides: %v: %w", err, nn.ErrConfiguration)
	}
	return out, nil
}

// NewOptimizer builds the configured optimizer over params.
func NewOptimizer(c Config, params []*nn.Param) (nn.Optimizer, error) {
	kwargs, err := ParseKwargs(c.OptimizerKwargs)
	if err != nil {
		return nil, err
	}
	return nn.NewOptimizer(c.Optimizer, params, c.LR, kwargs)
}

// NewSchedule parses the configured learning-rate schedule.
func NewSchedule(c Config) (nn.Schedule, error) {
	return nn.ParseSchedule(c.LRSchedule)
}
