// Package dataset turns UTF-8 text files into power-of-two padded byte
// sequences grouped by length, and cuts them into batches.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sort"
	"strings"

	"github.com/openfluke/bytecnn/nn"
)

const (
	// EOS terminates every sequence.
	EOS byte = 0
	// PAD fills a sequence up to its power-of-two length and is ignored by the loss.
	PAD byte = 7
)

// Batch is a set of sequences of one common power-of-two length.
type Batch [][]byte

// Len returns the common sequence length, or 0 for an empty batch.
func (b Batch) Len() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// PadLength returns the smallest power of two >= n (1 for n <= 1).
func PadLength(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Encode converts one line to its padded sequence: surrounding whitespace is
// trimmed, EOS appended and PAD added up to the next power of two.
func Encode(line string) []byte {
	return encode(line, 1)
}

func encode(line string, minLength int) []byte {
	content := strings.TrimSpace(line)
	n := PadLength(len(content) + 1)
	if n < minLength {
		n = minLength
	}
	seq := make([]byte, n)
	copy(seq, content)
	seq[len(content)] = EOS
	for i := len(content) + 1; i < n; i++ {
		seq[i] = PAD
	}
	return seq
}

type options struct {
	minLength int
}

// Option configures Load.
type Option func(*options)

// WithMinLength pads every sequence to at least m positions, rounded up to a
// power of two.
func WithMinLength(m int) Option {
	return func(o *options) {
		o.minLength = PadLength(m)
	}
}

// File is one loaded text file, bucketed by padded length.
type File struct {
	Path string
	// Lines is the number of sequences kept.
	Lines int
	// Skipped counts lines dropped because their content contained EOS or PAD.
	Skipped int

	buckets map[int][][]byte
}

// Load reads path line by line.
func Load(path string, opts ...Option) (*File, error) {
	o := options{minLength: 1}
	for _, opt := range opts {
		opt(&o)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %v: %w", path, err, nn.ErrIO)
	}
	defer fh.Close()

	f := &File{Path: path, buckets: make(map[int][][]byte)}
	r := bufio.NewReader(fh)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			f.add(line, o.minLength)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset %s: %v: %w", path, err, nn.ErrIO)
		}
	}
	return f, nil
}

// FromLines builds a File from in-memory lines.
func FromLines(lines []string, opts ...Option) *File {
	o := options{minLength: 1}
	for _, opt := range opts {
		opt(&o)
	}
	f := &File{buckets: make(map[int][][]byte)}
	for _, line := range lines {
		f.add(line, o.minLength)
	}
	return f
}

func (f *File) add(line string, minLength int) {
	content := strings.TrimSpace(line)
	if strings.IndexByte(content, EOS) >= 0 || strings.IndexByte(content, PAD) >= 0 {
		f.Skipped++
		return
	}
	seq := encode(content, minLength)
	f.buckets[len(seq)] = append(f.buckets[len(seq)], seq)
	f.Lines++
}

// Lengths returns the bucket lengths in ascending order.
func (f *File) Lengths() []int {
	lens := make([]int, 0, len(f.buckets))
	for l := range f.buckets {
		lens = append(lens, l)
	}
	sort.Ints(lens)
	return lens
}

// Bucket returns the sequences of length l.
func (f *File) Bucket(l int) [][]byte {
	return f.buckets[l]
}

// MaxSymbol returns the largest byte of any sequence, PAD included.
func (f *File) MaxSymbol() byte {
	var m byte
	for _, seqs := range f.buckets {
		for _, seq := range seqs {
			for _, b := range seq {
				m = max(m, b)
			}
		}
	}
	return m
}

// NumBatches returns how many full training batches of size bsz one epoch yields.
func (f *File) NumBatches(bsz int) int {
	if bsz < 1 {
		return 0
	}
	n := 0
	for _, seqs := range f.buckets {
		n += len(seqs) / bsz
	}
	return n
}

func checkBatchSize(bsz int) error {
	if bsz < 1 {
		return fmt.Errorf("batch size %d: %w", bsz, nn.ErrConfiguration)
	}
	return nil
}
