package dataset

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfluke/bytecnn/nn"
)

func TestPadLength(t *testing.T) {
	tests := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 62: 64, 64: 64, 65: 128}
	for n, want := range tests {
		if got := PadLength(n); got != want {
			t.Errorf("PadLength(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		line string
		want []byte
	}{
		{"hi", []byte{'h', 'i', EOS, PAD}},
		{"  abc \n", []byte{'a', 'b', 'c', EOS}},
		{"abcd", []byte{'a', 'b', 'c', 'd', EOS, PAD, PAD, PAD}},
		{"", []byte{EOS}},
	}
	for _, tc := range tests {
		if got := Encode(tc.line); !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestEncodeIsPowerOfTwoWithSinglePadRun(t *testing.T) {
	for n := 0; n < 200; n++ {
		seq := Encode(strings.Repeat("x", n))
		if len(seq)&(len(seq)-1) != 0 {
			t.Fatalf("length %d is not a power of two", len(seq))
		}
		eos := bytes.IndexByte(seq, EOS)
		if eos != n {
			t.Fatalf("EOS at %d, want %d", eos, n)
		}
		for _, b := range seq[eos+1:] {
			if b != PAD {
				t.Fatalf("non-PAD byte %d after EOS", b)
			}
		}
	}
}

func TestMultibyteUTF8(t *testing.T) {
	seq := Encode("é")
	want := []byte{0xc3, 0xa9, EOS, PAD}
	if !bytes.Equal(seq, want) {
		t.Errorf("Encode(é) = %v, want %v", seq, want)
	}
}

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBuckets(t *testing.T) {
	path := writeLines(t, "hi", "abc", "hello", "a\x07b", "x")
	f, err := Load(path, WithMinLength(4))
	if err != nil {
		t.Fatal(err)
	}
	if f.Lines != 4 || f.Skipped != 1 {
		t.Errorf("Lines = %d Skipped = %d, want 4 and 1", f.Lines, f.Skipped)
	}
	lens := f.Lengths()
	if len(lens) != 2 || lens[0] != 4 || lens[1] != 8 {
		t.Fatalf("Lengths() = %v, want [4 8]", lens)
	}
	if len(f.Bucket(4)) != 3 || len(f.Bucket(8)) != 1 {
		t.Errorf("bucket sizes %d and %d", len(f.Bucket(4)), len(f.Bucket(8)))
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	if !errors.Is(err, nn.ErrIO) {
		t.Errorf("expected ErrIO, got %v", err)
	}
}

func sizedFile(sizes map[int]int) *File {
	var lines []string
	for l, n := range sizes {
		for i := 0; i < n; i++ {
			// content of length l-1 pads to exactly l
			lines = append(lines, strings.Repeat(string(rune('a'+i%26)), l-1))
		}
	}
	return FromLines(lines)
}

func TestTrainBatches(t *testing.T) {
	f := sizedFile(map[int]int{4: 10, 8: 2, 16: 7})
	if got := f.NumBatches(3); got != 3+0+2 {
		t.Errorf("NumBatches(3) = %d, want 5", got)
	}

	batches, err := f.TrainBatches(3, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 5 {
		t.Fatalf("%d batches, want 5", len(batches))
	}
	for _, b := range batches {
		if len(b) != 3 {
			t.Errorf("batch of %d rows", len(b))
		}
		for _, row := range b {
			if len(row) != b.Len() {
				t.Errorf("mixed lengths in batch")
			}
		}
		if b.Len() == 8 {
			t.Errorf("bucket smaller than a batch produced a batch")
		}
	}
}

func TestTrainBatchesReproducible(t *testing.T) {
	f := sizedFile(map[int]int{4: 20, 16: 20})
	a, _ := f.TrainBatches(4, rand.New(rand.NewSource(9)))
	b, _ := f.TrainBatches(4, rand.New(rand.NewSource(9)))
	for i := range a {
		for j := range a[i] {
			if !bytes.Equal(a[i][j], b[i][j]) {
				t.Fatalf("batch %d row %d differs for the same seed", i, j)
			}
		}
	}
}

func TestEvalBatches(t *testing.T) {
	f := sizedFile(map[int]int{8: 7, 4: 2, 16: 25})
	batches, err := f.EvalBatches(10)
	if err != nil {
		t.Fatal(err)
	}
	// 4: 2 rows in one chunk; 8: 7 rows in one chunk; 16: 25 rows in two chunks of 13 and 12
	wantLens := []int{4, 8, 16, 16}
	wantRows := []int{2, 7, 13, 12}
	if len(batches) != len(wantLens) {
		t.Fatalf("%d batches, want %d", len(batches), len(wantLens))
	}
	total := 0
	for i, b := range batches {
		if b.Len() != wantLens[i] || len(b) != wantRows[i] {
			t.Errorf("batch %d: length %d rows %d, want %d and %d", i, b.Len(), len(b), wantLens[i], wantRows[i])
		}
		total += len(b)
	}
	if total != f.Lines {
		t.Errorf("eval covered %d rows, want %d", total, f.Lines)
	}
}

func TestBadBatchSize(t *testing.T) {
	f := sizedFile(map[int]int{4: 3})
	if _, err := f.TrainBatches(0, rand.New(rand.NewSource(1))); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("TrainBatches(0): %v", err)
	}
	if _, err := f.EvalBatches(-1); !errors.Is(err, nn.ErrConfiguration) {
		t.Errorf("EvalBatches(-1): %v", err)
	}
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"train.txt", "valid.txt", "test.txt"} {
		if err := os.WriteFile(filepath.Join(dir, "toy."+name), []byte("one\ntwo\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	c, err := LoadCorpus(filepath.Join(dir, "toy."))
	if err != nil {
		t.Fatal(err)
	}
	if c.Train.Lines != 2 || c.Valid.Lines != 2 || c.Test.Lines != 2 {
		t.Errorf("unexpected line counts")
	}
	if _, err := LoadCorpus(filepath.Join(dir, "missing.")); !errors.Is(err, nn.ErrIO) {
		t.Errorf("missing corpus: %v", err)
	}
}

func TestSampleBatch(t *testing.T) {
	b := SampleBatch(DefaultSample)
	if len(b) != 1 || b.Len() != 64 {
		t.Errorf("sample batch %d rows of length %d, want 1 of 64", len(b), b.Len())
	}
}

func TestMaxSymbol(t *testing.T) {
	f := FromLines([]string{"\x01\x02", "ab"})
	if got := f.MaxSymbol(); got != 'b' {
		t.Errorf("MaxSymbol() = %d, want %d", got, 'b')
	}
	if got := FromLines([]string{"\x01"}, WithMinLength(4)).MaxSymbol(); got != PAD {
		t.Errorf("MaxSymbol() of a padded line = %d, want PAD", got)
	}
}
