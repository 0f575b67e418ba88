package runlog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// number is a float64 whose non-finite values are written as the JSON
// strings "NaN", "+Inf" and "-Inf" instead of failing to encode.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

func (n *number) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

func toNumbers(vs []float64) []number {
	if vs == nil {
		return nil
	}
	out := make([]number, len(vs))
	for i, v := range vs {
		out[i] = number(v)
	}
	return out
}

func fromNumbers(ns []number) []float64 {
	if ns == nil {
		return nil
	}
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = float64(n)
	}
	return out
}

func metricNumbers(m map[string]float64) map[string]number {
	out := make(map[string]number, len(m))
	for k, v := range m {
		out[k] = number(v)
	}
	return out
}

type historyJSON struct {
	TrainLoss []number `json:"train_loss"`
	ValidLoss []number `json:"valid_loss"`
	ValidAcc  []number `json:"valid_acc"`
}

// MarshalJSON keeps diverged epochs (NaN or Inf losses) encodable.
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyJSON{toNumbers(h.TrainLoss), toNumbers(h.ValidLoss), toNumbers(h.ValidAcc)})
}

func (h *History) UnmarshalJSON(b []byte) error {
	var raw historyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*h = History{fromNumbers(raw.TrainLoss), fromNumbers(raw.ValidLoss), fromNumbers(raw.ValidAcc)}
	return nil
}
