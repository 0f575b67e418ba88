package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfluke/bytecnn/bytecnn"
	"github.com/openfluke/bytecnn/nn"
)

// SaveModelInfo writes the model descriptor.
func (l *Logger) SaveModelInfo(info bytecnn.Info) error {
	if err := os.WriteFile(filepath.Join(l.Dir, InfoFile), []byte(info.String()), 0644); err != nil {
		return fmt.Errorf("write model info: %v: %w", err, nn.ErrIO)
	}
	return nil
}

func stateFile(current bool) string {
	if current {
		return CurrentStateFile
	}
	return BestStateFile
}

// SaveModelState checkpoints params, to model_current.safetensors when
// current is set and to model.safetensors (the best model) otherwise.
func (l *Logger) SaveModelState(params []*nn.Param, current bool) error {
	return nn.SaveSafetensors(filepath.Join(l.Dir, stateFile(current)), nn.StateDict(params))
}

// LoadModelState reads a checkpoint written by SaveModelState.
func (l *Logger) LoadModelState(current bool) (map[string]nn.TensorWithShape, error) {
	return nn.LoadSafetensors(filepath.Join(l.Dir, stateFile(current)))
}

// TrainingState is everything needed to continue a run after the last
// completed epoch.
type TrainingState struct {
	RunID string `json:"run_id"`
	// Epoch is the last completed epoch, 1-based.
	Epoch         int     `json:"epoch"`
	BestValidLoss float64 `json:"best_valid_loss"`
	// BaseLR is the learning rate the schedule scales.
	BaseLR    float64           `json:"base_lr"`
	Config    json.RawMessage   `json:"config"`
	Optimizer nn.OptimizerState `json:"optimizer"`
	History   History           `json:"history"`
}

// SaveTrainingState writes training_state.json and the optimizer
// accumulators to optimizer.safetensors.
func (l *Logger) SaveTrainingState(st TrainingState) error {
	if st.RunID == "" {
		st.RunID = l.RunID
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode training state: %w", err)
	}
	slots := make(map[string]nn.TensorWithShape, len(st.Optimizer.Slots))
	for name, v := range st.Optimizer.Slots {
		slots[name] = nn.TensorWithShape{Values: v, Shape: []int{len(v)}}
	}
	if err := nn.SaveSafetensors(filepath.Join(l.Dir, OptimizerFile), slots); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(l.Dir, TrainingStateFile), data, 0644); err != nil {
		return fmt.Errorf("write training state: %v: %w", err, nn.ErrIO)
	}
	return nil
}

// LoadTrainingState reads the state saved in dir by SaveTrainingState.
func LoadTrainingState(dir string) (*TrainingState, error) {
	data, err := os.ReadFile(filepath.Join(dir, TrainingStateFile))
	if err != nil {
		return nil, fmt.Errorf("read training state: %v: %w", err, nn.ErrIO)
	}
	var st TrainingState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode training state: %v: %w", err, nn.ErrValidation)
	}
	if st.Epoch < 0 || len(st.Config) == 0 || st.Optimizer.Type == "" {
		return nil, fmt.Errorf("training state in %s is incomplete: %w", dir, nn.ErrValidation)
	}
	slots, err := nn.LoadSafetensors(filepath.Join(dir, OptimizerFile))
	if err != nil {
		return nil, err
	}
	st.Optimizer.Slots = make(map[string][]float32, len(slots))
	for name, t := range slots {
		st.Optimizer.Slots[name] = t.Values
	}
	return &st, nil
}
