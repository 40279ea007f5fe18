// Package keyword ranks chunks lexically with BM25 over lowercase,
// whitespace-separated tokens.
package keyword

import (
	"sort"
	"strings"

	"github.com/seanblong/soko/pkg/models"
)

// Entry is one chunk of the keyword corpus.
type Entry struct {
	Text string
	Meta models.Meta
}

// Searcher is an immutable BM25 index over a chunk corpus. Rebuild it to pick
// up new chunks.
type Searcher struct {
	entries []Entry
	bm25    *BM25
}

// Tokenize lowercases s and splits it on whitespace.
func Tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// NewSearcher indexes entries.
func NewSearcher(entries []Entry) *Searcher {
	corpus := make([][]string, len(entries))
	for i, e := range entries {
		corpus[i] = Tokenize(e.Text)
	}
	return &Searcher{entries: entries, bm25: NewBM25(corpus)}
}

// Len returns the corpus size.
func (s *Searcher) Len() int { return len(s.entries) }

// Search returns up to topK entries with a positive score, best first. Equal
// scores keep corpus order.
func (s *Searcher) Search(query string, topK int) []models.SearchResult {
	if s == nil || topK <= 0 || len(s.entries) == 0 {
		return nil
	}
	scores := s.bm25.Scores(Tokenize(query))

	idx := make([]int, 0, len(scores))
	for i, sc := range scores {
		if sc > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if len(idx) > topK {
		idx = idx[:topK]
	}

	out := make([]models.SearchResult, 0, len(idx))
	for _, i := range idx {
		out = append(out, models.SearchResult{Score: scores[i], Text: s.entries[i].Text, Meta: s.entries[i].Meta})
	}
	return out
}
