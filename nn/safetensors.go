package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

// TensorWithShape is a named float32 array with its shape, as stored in a
// safetensors file.
type TensorWithShape struct {
	Values []float32
	Shape  []int
}

// tensorInfo is one header entry.
type tensorInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset []int  `json:"data_offsets"`
}

// SaveSafetensors writes tensors to path as F32 safetensors.
func SaveSafetensors(path string, tensors map[string]TensorWithShape) error {
	data, err := SerializeSafetensors(tensors)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %v: %w", path, err, ErrIO)
	}
	return nil
}

// SerializeSafetensors encodes tensors as
// [header size (8 bytes LE)] [header JSON] [F32 LE data], names sorted.
func SerializeSafetensors(tensors map[string]TensorWithShape) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	offset := 0
	for _, name := range names {
		t := tensors[name]
		if numElements(t.Shape) != len(t.Values) {
			return nil, fmt.Errorf("tensor %s: shape %v does not hold %d values: %w", name, t.Shape, len(t.Values), ErrShape)
		}
		size := len(t.Values) * 4
		header[name] = tensorInfo{DType: "F32", Shape: t.Shape, Offset: []int{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	headerSize := len(headerJSON)
	out := make([]byte, 8+headerSize+offset)
	binary.LittleEndian.PutUint64(out[0:8], uint64(headerSize))
	copy(out[8:], headerJSON)

	data := out[8+headerSize:]
	for _, name := range names {
		t := tensors[name]
		start := header[name].Offset[0]
		for i, v := range t.Values {
			binary.LittleEndian.PutUint32(data[start+i*4:], math.Float32bits(v))
		}
	}
	return out, nil
}

// LoadSafetensors reads an F32 safetensors file.
func LoadSafetensors(path string) (map[string]TensorWithShape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", path, err, ErrIO)
	}
	return LoadSafetensorsFromBytes(data)
}

// LoadSafetensorsFromBytes decodes SerializeSafetensors output. Only F32
// tensors are accepted.
func LoadSafetensorsFromBytes(data []byte) (map[string]TensorWithShape, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size: %w", ErrValidation)
	}
	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if uint64(len(data)-8) < headerSize {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available: %w", headerSize, len(data)-8, ErrValidation)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %v: %w", err, ErrValidation)
	}
	body := data[8+headerSize:]

	tensors := make(map[string]TensorWithShape, len(header))
	for name, raw := range header {
		if strings.HasPrefix(name, "__") {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: %v: %w", name, err, ErrValidation)
		}
		if info.DType != "F32" {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %s: %w", name, info.DType, ErrValidation)
		}
		if len(info.Offset) != 2 {
			return nil, fmt.Errorf("tensor %s: bad data_offsets: %w", name, ErrValidation)
		}
		n := numElements(info.Shape)
		start, end := info.Offset[0], info.Offset[1]
		if start < 0 || end > len(body) || end-start != n*4 {
			return nil, fmt.Errorf("tensor %s: data out of bounds: %w", name, ErrValidation)
		}
		values := make([]float32, n)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[start+i*4:]))
		}
		tensors[name] = TensorWithShape{Values: values, Shape: info.Shape}
	}
	return tensors, nil
}

// StateDict copies parameter values into a name-keyed map.
func StateDict(params []*Param) map[string]TensorWithShape {
	out := make(map[string]TensorWithShape, len(params))
	for _, p := range params {
		out[p.Name] = TensorWithShape{
			Values: append([]float32(nil), p.Data...),
			Shape:  append([]int(nil), p.Shape...),
		}
	}
	return out
}

// LoadStateDict copies values into params. Every parameter must be present
// with an identical shape and no extra entries may remain.
func LoadStateDict(params []*Param, state map[string]TensorWithShape) error {
	var missing []string
	for _, p := range params {
		t, ok := state[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if len(t.Shape) != len(p.Shape) || numElements(t.Shape) != len(p.Data) {
			return shapeError("state dict "+p.Name, t.Shape, p.Shape)
		}
		for i := range t.Shape {
			if t.Shape[i] != p.Shape[i] {
				return shapeError("state dict "+p.Name, t.Shape, p.Shape)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing parameters %s: %w", strings.Join(missing, ", "), ErrConfiguration)
	}
	if len(state) != len(params) {
		known := make(map[string]bool, len(params))
		for _, p := range params {
			known[p.Name] = true
		}
		var extra []string
		for name := range state {
			if !known[name] {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("unexpected parameters %s: %w", strings.Join(extra, ", "), ErrConfiguration)
	}
	for _, p := range params {
		copy(p.Data, state[p.Name].Values)
	}
	return nil
}
