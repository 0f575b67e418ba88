package dataset

// Corpus is the train/valid/test split stored as <prefix>train.txt,
// <prefix>valid.txt and <prefix>test.txt.
type Corpus struct {
	Train *File
	Valid *File
	Test  *File
}

// LoadCorpus loads the three files sharing prefix, e.g. "./data/ptb.".
func LoadCorpus(prefix string, opts ...Option) (*Corpus, error) {
	var c Corpus
	for _, part := range []struct {
		name string
		dst  **File
	}{
		{"train.txt", &c.Train},
		{"valid.txt", &c.Valid},
		{"test.txt", &c.Test},
	} {
		f, err := Load(prefix+part.name, opts...)
		if err != nil {
			return nil, err
		}
		*part.dst = f
	}
	return &c, nil
}

// MaxSymbol returns the largest byte across the three splits.
func (c *Corpus) MaxSymbol() byte {
	return max(c.Train.MaxSymbol(), c.Valid.MaxSymbol(), c.Test.MaxSymbol())
}
