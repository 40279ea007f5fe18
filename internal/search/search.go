package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/ai"
	"github.com/seanblong/soko/internal/keyword"
	"github.com/seanblong/soko/internal/metrics"
	"github.com/seanblong/soko/internal/vectorstore"
	"github.com/seanblong/soko/pkg/models"
	"golang.org/x/sync/errgroup"
)

// epsilon keeps min-max normalization finite when all scores are equal.
const epsilon = 1e-9

// Weights are the fusion weights of the two signals.
type Weights struct {
	Vector  float64
	Keyword float64
}

var DefaultWeights = Weights{Vector: 0.7, Keyword: 0.3}

// VectorQuerier returns the k nearest stored chunks to a text.
type VectorQuerier interface {
	Query(ctx context.Context, text string, k int) ([]vectorstore.Match, error)
}

// VectorSearcher embeds the query and asks the vector store for neighbors.
// Distances are returned raw.
type VectorSearcher struct {
	Embedder ai.Embedder
	Store    vectorstore.Store
}

func (v *VectorSearcher) Query(ctx context.Context, text string, k int) ([]vectorstore.Match, error) {
	vec, err := v.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := v.Store.Query(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if matches[i].Meta.ChunkID == "" {
			matches[i].Meta.ChunkID = matches[i].ID
		}
	}
	return matches, nil
}

type Service struct {
	Vector  VectorQuerier
	Corpus  vectorstore.Store
	Weights Weights
	Metrics *metrics.Metrics

	mu      sync.RWMutex
	keyword *keyword.Searcher
}

// NewService creates a hybrid search service over the vector store. The
// keyword index is built from the store on first use.
func NewService(embedder ai.Embedder, store vectorstore.Store, m *metrics.Metrics) *Service {
	return &Service{
		Vector:  &VectorSearcher{Embedder: embedder, Store: store},
		Corpus:  store,
		Weights: DefaultWeights,
		Metrics: m,
	}
}

// Refresh rebuilds the keyword index from every chunk in the store.
func (s *Service) Refresh(ctx context.Context) error {
	records, err := s.Corpus.All(ctx)
	if err != nil {
		return err
	}
	entries := make([]keyword.Entry, len(records))
	for i, r := range records {
		if r.Meta.ChunkID == "" {
			r.Meta.ChunkID = r.ID
		}
		entries[i] = keyword.Entry{Text: r.Text, Meta: r.Meta}
	}
	idx := keyword.NewSearcher(entries)

	s.mu.Lock()
	s.keyword = idx
	s.mu.Unlock()
	log.Debug().Int("chunks", idx.Len()).Msg("keyword index rebuilt")
	return nil
}

func (s *Service) keywordIndex(ctx context.Context) (*keyword.Searcher, error) {
	s.mu.RLock()
	idx := s.keyword
	s.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyword, nil
}

// Search runs both signals with 2*topK candidates each and fuses them. A
// failing signal is logged and treated as empty; the error is only returned
// when neither signal produced candidates.
func (s *Service) Search(ctx context.Context, q string, topK int) (res []models.SearchResult, err error) {
	start := time.Now()
	defer func() { s.Metrics.ObserveSearch(time.Since(start), err) }()

	q = strings.TrimSpace(q)
	if q == "" || topK <= 0 {
		return []models.SearchResult{}, nil
	}
	fetch := 2 * topK

	var (
		vec           []vectorstore.Match
		kw            []models.SearchResult
		vecErr, kwErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, vecErr = s.Vector.Query(gctx, q, fetch)
		return nil
	})
	g.Go(func() error {
		idx, err := s.keywordIndex(gctx)
		if err != nil {
			kwErr = err
			return nil
		}
		kw = idx.Search(q, fetch)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil {
		log.Warn().Err(vecErr).Str("query", q).Msg("vector search failed, using keyword results only")
	}
	if kwErr != nil {
		log.Warn().Err(kwErr).Str("query", q).Msg("keyword search failed, using vector results only")
	}
	if len(vec) == 0 && len(kw) == 0 {
		if err := errors.Join(vecErr, kwErr); err != nil {
			return nil, err
		}
	}

	return Fuse(vec, kw, s.Weights, topK), nil
}

// Fuse min-max normalizes each signal independently, sums the weighted scores
// per chunk identity and returns the topK best. Vector distances are inverted
// so that closer is higher. A chunk seen by one signal only scores from that
// signal alone. Ties keep first-seen order, vector results first.
func Fuse(vec []vectorstore.Match, kw []models.SearchResult, w Weights, topK int) []models.SearchResult {
	merged := make([]models.SearchResult, 0, len(vec)+len(kw))
	pos := map[string]int{}
	add := func(text string, meta models.Meta, score float64) {
		key := meta.Identity()
		if i, ok := pos[key]; ok {
			merged[i].Score += score
			return
		}
		pos[key] = len(merged)
		merged = append(merged, models.SearchResult{Score: score, Text: text, Meta: meta})
	}

	if len(vec) > 0 {
		lo, hi := vec[0].Distance, vec[0].Distance
		for _, m := range vec[1:] {
			lo = min(lo, m.Distance)
			hi = max(hi, m.Distance)
		}
		for _, m := range vec {
			norm := 1 - (m.Distance-lo)/(hi-lo+epsilon)
			add(m.Text, m.Meta, w.Vector*norm)
		}
	}
	if len(kw) > 0 {
		lo, hi := kw[0].Score, kw[0].Score
		for _, r := range kw[1:] {
			lo = min(lo, r.Score)
			hi = max(hi, r.Score)
		}
		for _, r := range kw {
			norm := (r.Score - lo) / (hi - lo + epsilon)
			add(r.Text, r.Meta, w.Keyword*norm)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if topK >= 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
