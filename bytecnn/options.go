package bytecnn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openfluke/bytecnn/nn"
)

// Options are the architecture hyperparameters.
type Options struct {
	// N is the number of residual blocks per stage pair; each stage uses N/2.
	N int
	// EmSize is the embedding width, the channel count and the vocabulary size.
	EmSize int
}

// DefaultOptions returns n=8, emsize=256.
func DefaultOptions() Options {
	return Options{N: 8, EmSize: 256}
}

// Validate checks that N is even and positive and EmSize is at least 8 so the
// PAD symbol is inside the vocabulary.
func (o Options) Validate() error {
	if o.N < 2 || o.N%2 != 0 {
		return fmt.Errorf("n=%d must be a positive multiple of 2: %w", o.N, nn.ErrConfiguration)
	}
	if o.EmSize < 8 {
		return fmt.Errorf("emsize=%d must be at least 8: %w", o.EmSize, nn.ErrConfiguration)
	}
	return nil
}

// String formats the options as model kwargs, "n=8,emsize=256".
func (o Options) String() string {
	return fmt.Sprintf("n=%d,emsize=%d", o.N, o.EmSize)
}

// ParseOptions reads "k=v,..." kwargs over the defaults. Keys are n and
// emsize; anything else is a configuration error.
func ParseOptions(kwargs string) (Options, error) {
	o := DefaultOptions()
	var unknown []string
	for _, kv := range strings.Split(kwargs, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return o, fmt.Errorf("model kwarg %q is not key=value: %w", kv, nn.ErrConfiguration)
		}
		k = strings.TrimSpace(k)
		var dst *int
		switch k {
		case "n":
			dst = &o.N
		case "emsize":
			dst = &o.EmSize
		default:
			unknown = append(unknown, k)
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return o, fmt.Errorf("model kwarg %s: %v: %w", k, err, nn.ErrConfiguration)
		}
		*dst = n
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return o, fmt.Errorf("unknown model kwargs %s: %w", strings.Join(unknown, ", "), nn.ErrConfiguration)
	}
	return o, o.Validate()
}
