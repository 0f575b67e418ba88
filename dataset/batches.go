package dataset

import (
	"math/rand"
)

// TrainBatches returns one epoch of shuffled full batches. Within each
// bucket the sequences are permuted and the remainder beyond a multiple of
// bsz is dropped; the resulting batches are then shuffled across buckets.
// Buckets smaller than bsz contribute nothing.
func (f *File) TrainBatches(bsz int, rng *rand.Rand) ([]Batch, error) {
	if err := checkBatchSize(bsz); err != nil {
		return nil, err
	}
	var batches []Batch
	for _, l := range f.Lengths() {
		seqs := f.buckets[l]
		n := len(seqs) / bsz
		if n == 0 {
			continue
		}
		perm := rng.Perm(len(seqs))[:n*bsz]
		for i := 0; i < n; i++ {
			b := make(Batch, bsz)
			for j, idx := range perm[i*bsz : (i+1)*bsz] {
				b[j] = seqs[idx]
			}
			batches = append(batches, b)
		}
	}
	rng.Shuffle(len(batches), func(i, j int) {
		batches[i], batches[j] = batches[j], batches[i]
	})
	return batches, nil
}

// EvalBatches covers every sequence exactly once in file order. Buckets are
// visited by ascending length and each is split into max(1, n/bsz) chunks
// whose sizes differ by at most one, the larger chunks first.
func (f *File) EvalBatches(bsz int) ([]Batch, error) {
	if err := checkBatchSize(bsz); err != nil {
		return nil, err
	}
	var batches []Batch
	for _, l := range f.Lengths() {
		seqs := f.buckets[l]
		k := len(seqs) / bsz
		if k < 1 {
			k = 1
		}
		size, extra := len(seqs)/k, len(seqs)%k
		start := 0
		for i := 0; i < k; i++ {
			end := start + size
			if i < extra {
				end++
			}
			batches = append(batches, Batch(seqs[start:end]))
			start = end
		}
	}
	return batches, nil
}

// DefaultSample is the sentence decoded after every epoch.
const DefaultSample = "On a beautiful morning, a lone rider crossed the quiet forest."

// SampleBatch returns a one-row batch holding text, for qualitative decoding.
func SampleBatch(text string, opts ...Option) Batch {
	o := options{minLength: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return Batch{encode(text, o.minLength)}
}
