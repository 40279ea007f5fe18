package keyword

import (
	"math"
	"testing"

	"github.com/seanblong/soko/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(texts ...string) []Entry {
	out := make([]Entry, len(texts))
	for i, t := range texts {
		out[i] = Entry{Text: t, Meta: models.Meta{DocID: "doc", ChunkIndex: i}}
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "way", "of", "strategy"}, Tokenize("  The WAY\tof\nstrategy "))
	assert.Empty(t, Tokenize("   "))
}

func TestComputeIDF(t *testing.T) {
	tests := []struct {
		name     string
		n, df    int64
		expected float64
	}{
		{"rare term", 10, 1, math.Log(9.5/1.5 + 1)},
		{"term in every doc", 4, 4, math.Log(0.5/4.5 + 1)},
		{"half the corpus", 4, 2, math.Log(2.5/2.5 + 1)},
		{"single document", 1, 1, math.Log(0.5/1.5 + 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeIDF(tt.n, tt.df)
			assert.InDelta(t, tt.expected, got, 1e-12)
			assert.Greater(t, got, 0.0)
		})
	}
}

func TestSearcher_TermInEveryChunk(t *testing.T) {
	single := NewSearcher(entries("Musashi wrote the Book of Five Rings"))
	results := single.Search("musashi", 5)
	require.Len(t, results, 1, "a one-chunk corpus still yields keyword hits")
	assert.Greater(t, results[0].Score, 0.0)

	common := NewSearcher(entries("the sword", "the brush", "the tea"))
	results = common.Search("the", 5)
	assert.Len(t, results, 3)
}

func TestBM25_Scores(t *testing.T) {
	m := NewBM25([][]string{
		{"sword", "strategy"},
		{"sword", "sword", "sword"},
		{"tea", "ceremony"},
	})
	require.Equal(t, 3, m.Len())

	scores := m.Scores([]string{"sword"})
	assert.Greater(t, scores[1], scores[0], "higher term frequency ranks higher")
	assert.Equal(t, 0.0, scores[2])

	none := m.Scores([]string{"unknown"})
	assert.Equal(t, []float64{0, 0, 0}, none)

	doubled := m.Scores([]string{"sword", "sword"})
	assert.InDelta(t, 2*scores[0], doubled[0], 1e-12)
}

func TestBM25_EmptyCorpus(t *testing.T) {
	m := NewBM25(nil)
	assert.Empty(t, m.Scores([]string{"x"}))
}

func TestSearcher_Search(t *testing.T) {
	s := NewSearcher(entries(
		"Miyamoto Musashi wrote the Book of Five Rings",
		"tea ceremony and calligraphy",
		"the book of five rings discusses strategy and the sword",
		"nothing relevant here",
	))

	results := s.Search("book of five rings strategy", 10)
	require.Len(t, results, 2, "zero-scoring chunks are excluded")
	assert.Equal(t, 2, results[0].Meta.ChunkIndex)
	assert.Equal(t, 0, results[1].Meta.ChunkIndex)
	assert.Greater(t, results[0].Score, results[1].Score)

	top1 := s.Search("book of five rings strategy", 1)
	require.Len(t, top1, 1)
	assert.Equal(t, 2, top1[0].Meta.ChunkIndex)
}

func TestSearcher_CaseInsensitive(t *testing.T) {
	s := NewSearcher(entries("Alpha beta", "gamma"))
	results := s.Search("ALPHA", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "Alpha beta", results[0].Text)
}

func TestSearcher_TiesKeepCorpusOrder(t *testing.T) {
	s := NewSearcher(entries("apple pie", "apple tart", "pear"))
	results := s.Search("apple", 5)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Meta.ChunkIndex)
	assert.Equal(t, 1, results[1].Meta.ChunkIndex)
}

func TestSearcher_EdgeCases(t *testing.T) {
	var nilSearcher *Searcher
	assert.Empty(t, nilSearcher.Search("x", 5))
	assert.Empty(t, NewSearcher(nil).Search("x", 5))
	assert.Empty(t, NewSearcher(entries("x")).Search("x", 0))
	assert.Empty(t, NewSearcher(entries("x y")).Search("", 5))
}
