package nn

import (
	"fmt"
	"math/rand"
)

// Embedding maps byte symbols to learned vectors. The row at PaddingIdx is
// zero at construction and never receives gradient.
type Embedding struct {
	VocabSize    int
	EmbeddingDim int
	PaddingIdx   int

	Weight *Param // [VocabSize][EmbeddingDim]
}

// NewEmbedding draws rows from N(0, 1) and zeroes the padding row.
func NewEmbedding(name string, vocabSize, embeddingDim, paddingIdx int, rng *rand.Rand) *Embedding {
	e := &Embedding{
		VocabSize:    vocabSize,
		EmbeddingDim: embeddingDim,
		PaddingIdx:   paddingIdx,
		Weight:       newParam(name+".weight", vocabSize, embeddingDim),
	}
	for i := range e.Weight.Data {
		e.Weight.Data[i] = float32(rng.NormFloat64())
	}
	if paddingIdx >= 0 && paddingIdx < vocabSize {
		row := e.Weight.Data[paddingIdx*embeddingDim : (paddingIdx+1)*embeddingDim]
		for i := range row {
			row[i] = 0
		}
	}
	return e
}

func (e *Embedding) Params() []*Param {
	return []*Param{e.Weight}
}

// Forward looks up every symbol of the equal-length rows and returns the
// channels-first tensor [batch][EmbeddingDim][length]. The recorded backward
// step terminates the graph.
func (e *Embedding) Forward(tape *Tape, rows [][]byte) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("embedding: empty batch: %w", ErrShape)
	}
	seqLen := len(rows[0])
	out := NewTensor(len(rows), e.EmbeddingDim, seqLen)
	for b, row := range rows {
		if len(row) != seqLen {
			return nil, fmt.Errorf("embedding: row %d has length %d, want %d: %w", b, len(row), seqLen, ErrShape)
		}
		base := b * e.EmbeddingDim * seqLen
		for pos, sym := range row {
			id := int(sym)
			if id >= e.VocabSize {
				return nil, fmt.Errorf("embedding: symbol %d outside vocabulary of %d: %w", id, e.VocabSize, ErrConfiguration)
			}
			vec := e.Weight.Data[id*e.EmbeddingDim : (id+1)*e.EmbeddingDim]
			for d, v := range vec {
				out.Data[base+d*seqLen+pos] = v
			}
		}
	}

	tape.Record(func(g *Tensor) (*Tensor, error) {
		if !SameShape(g, out) {
			return nil, shapeError("embedding grad", g.Shape, out.Shape)
		}
		for b, row := range rows {
			base := b * e.EmbeddingDim * seqLen
			for pos, sym := range row {
				id := int(sym)
				if id == e.PaddingIdx {
					continue
				}
				grad := e.Weight.Grad[id*e.EmbeddingDim : (id+1)*e.EmbeddingDim]
				for d := range grad {
					grad[d] += g.Data[base+d*seqLen+pos]
				}
			}
		}
		return nil, nil
	})
	return out, nil
}
