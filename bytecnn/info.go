package bytecnn

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfluke/bytecnn/nn"
)

const (
	// InfoFile holds the model descriptor inside a log directory.
	InfoFile = "model.info"
	// StateFile holds the best parameters inside a log directory.
	StateFile = "model.safetensors"
)

// Info is the model descriptor: the class name and its kwargs.
type Info struct {
	Class  string
	Kwargs string
}

// Info describes m.
func (m *ByteCNN) Info() Info {
	return Info{Class: ModelClass, Kwargs: m.Opts.String()}
}

// String renders the descriptor as key=value lines.
func (i Info) String() string {
	return fmt.Sprintf("model_class=%s\nmodel_kwargs=%s\n", i.Class, i.Kwargs)
}

// ParseInfo reads key=value lines. model_class and model_kwargs are required
// and any other key is rejected.
func ParseInfo(r io.Reader) (Info, error) {
	fields := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return Info{}, fmt.Errorf("model info line %q is not key=value: %w", line, nn.ErrConfiguration)
		}
		fields[k] = v
	}
	if err := sc.Err(); err != nil {
		return Info{}, fmt.Errorf("read model info: %v: %w", err, nn.ErrIO)
	}

	var info Info
	var ok bool
	if info.Class, ok = fields["model_class"]; !ok {
		return Info{}, fmt.Errorf("model info: missing model_class: %w", nn.ErrConfiguration)
	}
	if info.Kwargs, ok = fields["model_kwargs"]; !ok {
		return Info{}, fmt.Errorf("model info: missing model_kwargs: %w", nn.ErrConfiguration)
	}
	delete(fields, "model_class")
	delete(fields, "model_kwargs")
	if len(fields) > 0 {
		extra := make([]string, 0, len(fields))
		for k := range fields {
			extra = append(extra, k)
		}
		sort.Strings(extra)
		return Info{}, fmt.Errorf("unknown model params: %s: %w", strings.Join(extra, ", "), nn.ErrConfiguration)
	}
	return info, nil
}

// Load rebuilds a model from dir/model.info and dir/model.safetensors.
func Load(dir string) (*ByteCNN, error) {
	f, err := os.Open(filepath.Join(dir, InfoFile))
	if err != nil {
		return nil, fmt.Errorf("open model info: %v: %w", err, nn.ErrIO)
	}
	info, err := ParseInfo(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if info.Class != ModelClass {
		return nil, fmt.Errorf("tried to load %s as %s: %w", info.Class, ModelClass, nn.ErrValidation)
	}
	opts, err := ParseOptions(info.Kwargs)
	if err != nil {
		return nil, err
	}
	m, err := New(opts, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	state, err := nn.LoadSafetensors(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(state); err != nil {
		return nil, err
	}
	return m, nil
}
