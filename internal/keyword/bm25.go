package keyword

import "math"

const (
	k1 = 1.2
	b  = 0.75
)

// BM25 scores documents of a fixed, pre-tokenized corpus against a query.
type BM25 struct {
	termFreqs []map[string]int
	lengths   []int
	avgLength float64
	docFreq   map[string]int
}

// NewBM25 indexes corpus; corpus[i] is the token list of document i.
func NewBM25(corpus [][]string) *BM25 {
	m := &BM25{
		termFreqs: make([]map[string]int, len(corpus)),
		lengths:   make([]int, len(corpus)),
		docFreq:   map[string]int{},
	}
	total := 0
	for i, toks := range corpus {
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for t := range tf {
			m.docFreq[t]++
		}
		m.termFreqs[i] = tf
		m.lengths[i] = len(toks)
		total += len(toks)
	}
	if len(corpus) > 0 {
		m.avgLength = float64(total) / float64(len(corpus))
	}
	return m
}

// Len returns the number of indexed documents.
func (m *BM25) Len() int { return len(m.lengths) }

// Scores returns one score per document, index-aligned with the corpus.
// Repeated query tokens count once per occurrence.
func (m *BM25) Scores(query []string) []float64 {
	scores := make([]float64, len(m.lengths))
	n := int64(len(m.lengths))
	for _, term := range query {
		df := m.docFreq[term]
		if df == 0 {
			continue
		}
		idf := computeIDF(n, int64(df))
		for i, tf := range m.termFreqs {
			f := tf[term]
			if f == 0 {
				continue
			}
			scores[i] += idf * computeTFNorm(float64(f), float64(m.lengths[i]), m.avgLength)
		}
	}
	return scores
}

// computeIDF is ln(1 + (N - df + 0.5)/(df + 0.5)). It stays positive even
// for a term present in every document.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
