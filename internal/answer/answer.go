// Package answer turns a question into a grounded answer: hybrid retrieval,
// context formatting, an answer cache lookup and, on a miss, one LLM call.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/ai"
	"github.com/seanblong/soko/internal/cache"
	"github.com/seanblong/soko/internal/metrics"
	"github.com/seanblong/soko/pkg/models"
	"golang.org/x/sync/singleflight"
)

// NoMatches is the answer given when retrieval finds nothing.
const NoMatches = "no indexed content matched the question"

var ErrEmptyQuestion = errors.New("question is empty")

const promptTemplate = `You are answering questions using retrieved document context.
Answer only from the context. If the context does not contain the answer, say so.

Context:
%s

Question:
%s`

// Searcher is the retrieval half of the pipeline.
type Searcher interface {
	Search(ctx context.Context, q string, topK int) ([]models.SearchResult, error)
}

type Answer struct {
	Text    string                `json:"answer"`
	Cached  bool                  `json:"cached"`
	Model   string                `json:"model"`
	Results []models.SearchResult `json:"results,omitempty"`
}

type Service struct {
	Searcher Searcher
	LLM      ai.LLM
	Cache    *cache.AnswerCache
	Metrics  *metrics.Metrics
	TopK     int

	group singleflight.Group
}

func NewService(s Searcher, llm ai.LLM, c *cache.AnswerCache, m *metrics.Metrics, topK int) *Service {
	return &Service{Searcher: s, LLM: llm, Cache: c, Metrics: m, TopK: topK}
}

// Ask answers q. A cache hit is returned verbatim without calling the LLM.
// Concurrent calls for the same question and context share one generation.
func (s *Service) Ask(ctx context.Context, q string) (Answer, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Answer{}, ErrEmptyQuestion
	}

	results, err := s.Searcher.Search(ctx, q, s.TopK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(results) == 0 {
		return Answer{Text: NoMatches, Results: results}, nil
	}

	retrieved := FormatContext(results)
	key := cache.Key(q, retrieved)

	if s.Cache != nil {
		if e, ok := s.Cache.Get(ctx, key); ok {
			s.Metrics.CacheLookup(true)
			log.Debug().Str("key", key).Msg("answer cache hit")
			return Answer{Text: e.Answer, Cached: true, Model: e.Model, Results: results}, nil
		}
		s.Metrics.CacheLookup(false)
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		// Waiters share this call, so one caller going away must not cancel it.
		gctx := context.WithoutCancel(ctx)
		text, err := s.LLM.Generate(gctx, fmt.Sprintf(promptTemplate, retrieved, q))
		s.Metrics.LLMCall(err)
		if err != nil {
			return "", err
		}
		if s.Cache != nil {
			if err := s.Cache.Set(gctx, key, text, s.LLM.Model()); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to store answer")
			}
		}
		return text, nil
	})
	if err != nil {
		return Answer{}, fmt.Errorf("generation failed: %w", err)
	}
	if shared {
		log.Debug().Str("key", key).Msg("shared in-flight generation")
	}
	return Answer{Text: v.(string), Model: s.LLM.Model(), Results: results}, nil
}

// FormatContext renders results as numbered sections for the prompt.
func FormatContext(results []models.SearchResult) string {
	sections := make([]string, len(results))
	for i, r := range results {
		sections[i] = fmt.Sprintf("[DOC %d]\nfile: %s\nscore: %.4f\n---\n%s\n", i+1, r.Meta.DocID, r.Score, r.Text)
	}
	return strings.Join(sections, "\n")
}
