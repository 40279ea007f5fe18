package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/ai"
	"github.com/seanblong/soko/internal/chunker"
	"github.com/seanblong/soko/internal/loader"
	"github.com/seanblong/soko/internal/metrics"
	"github.com/seanblong/soko/internal/registry"
	"github.com/seanblong/soko/internal/vectorstore"
	"github.com/seanblong/soko/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the largest number of records sent to the vector store
// in one call.
const DefaultBatchSize = 500

// DocumentLoader produces documents for new or changed files under a path.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (loader.Result, error)
}

// Indexer handles ingestion of files into the vector store.
type Indexer struct {
	Loader    DocumentLoader
	Chunker   *chunker.Chunker
	Embedder  ai.Embedder
	Store     vectorstore.Store
	Registry  registry.Store
	Metrics   *metrics.Metrics
	BatchSize int

	// NewID returns a fresh chunk identifier; uuid.NewString by default.
	NewID func() string
	Now   func() time.Time

	mu      sync.Mutex
	readyMu sync.Mutex
	ready   bool
}

// New creates a new Indexer instance. Nothing is connected until the first
// ingestion that has chunks to store.
func New(l DocumentLoader, c *chunker.Chunker, e ai.Embedder, s vectorstore.Store, r registry.Store, m *metrics.Metrics) *Indexer {
	return &Indexer{
		Loader:    l,
		Chunker:   c,
		Embedder:  e,
		Store:     s,
		Registry:  r,
		Metrics:   m,
		BatchSize: DefaultBatchSize,
		NewID:     uuid.NewString,
		Now:       time.Now,
	}
}

// Report describes the outcome of one ingestion.
type Report struct {
	// Stored is true when new chunks were persisted and the registry updated.
	Stored bool `json:"stored"`
	// Reason is a human-readable summary of the outcome.
	Reason       string `json:"reason"`
	Documents    int    `json:"documents"`
	Chunks       int    `json:"chunks"`
	Unchanged    int    `json:"unchanged"`
	Failed       int    `json:"failed"`
	StaleRemoved int64  `json:"stale_removed"`
	// Total is the collection size after ingestion, -1 if unknown.
	Total int `json:"total"`
}

// EnsureReady prepares the vector store once. It is safe to call repeatedly;
// a failed attempt is retried on the next call.
func (ix *Indexer) EnsureReady(ctx context.Context) error {
	ix.readyMu.Lock()
	defer ix.readyMu.Unlock()
	if ix.ready {
		return nil
	}
	log.Info().Msg("initializing vector store")
	if err := ix.Store.Ready(ctx); err != nil {
		return err
	}
	ix.ready = true
	return nil
}

// Ingest loads, chunks, embeds and stores new or changed content under path,
// then records it in the registry. The registry is only updated after every
// batch has been stored. Calls are serialized.
func (ix *Indexer) Ingest(ctx context.Context, path string) (Report, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rep := Report{Total: -1}
	log.Info().Str("path", path).Msg("ingesting")

	res, err := ix.Loader.Load(ctx, path)
	if err != nil {
		rep.Reason = err.Error()
		return rep, err
	}
	rep.Documents = len(res.Documents)
	rep.Unchanged = res.Unchanged
	rep.Failed = res.Failed
	if len(res.Documents) == 0 {
		rep.Reason = fmt.Sprintf("nothing to ingest (%d files unchanged, %d failed)", res.Unchanged, res.Failed)
		log.Warn().Str("path", path).Msg(rep.Reason)
		return rep, nil
	}

	chunks := ix.Chunker.Chunk(res.Documents)
	if len(chunks) == 0 {
		rep.Reason = "no chunks created"
		log.Warn().Str("path", path).Msg(rep.Reason)
		return rep, nil
	}
	rep.Chunks = len(chunks)

	if err := ix.EnsureReady(ctx); err != nil {
		ix.Metrics.IngestFailed("store")
		rep.Reason = "vector store unavailable: " + err.Error()
		return rep, fmt.Errorf("prepare vector store: %w", err)
	}

	for i := range chunks {
		chunks[i].Meta.ChunkID = ix.NewID()
	}

	log.Info().Int("chunks", len(chunks)).Msg("embedding chunks")
	vecs, err := ix.embedAll(ctx, chunks)
	if err != nil {
		ix.Metrics.IngestFailed("embed")
		rep.Reason = "embedding failed: " + err.Error()
		return rep, fmt.Errorf("embed chunks: %w", err)
	}

	if stored, err := ix.persist(ctx, chunks, vecs); err != nil {
		ix.Metrics.IngestFailed("store")
		rep.Reason = fmt.Sprintf("storage failed after %d of %d chunks: %v", stored, len(chunks), err)
		log.Error().Err(err).Int("stored", stored).Int("chunks", len(chunks)).Msg("storage failed, registry left unchanged")
		return rep, fmt.Errorf("store chunks: %w", err)
	}

	rep.StaleRemoved = ix.pruneStale(ctx, res.Documents)

	if err := ix.Registry.Commit(ctx, ix.updates(res.Documents, chunks)); err != nil {
		ix.Metrics.IngestFailed("registry")
		rep.Reason = "registry update failed: " + err.Error()
		return rep, fmt.Errorf("commit registry: %w", err)
	}

	ix.Metrics.Ingested(len(res.Documents), len(chunks))
	rep.Stored = true
	if n, err := ix.Store.Count(ctx); err == nil {
		rep.Total = n
	}
	rep.Reason = fmt.Sprintf("ingested %d documents as %d chunks", len(res.Documents), len(chunks))
	log.Info().
		Str("path", path).
		Int("documents", rep.Documents).
		Int("chunks", rep.Chunks).
		Int64("stale_removed", rep.StaleRemoved).
		Int("total", rep.Total).
		Msg("ingestion complete")
	return rep, nil
}

// embedAll embeds chunk texts in sub-batches on a bounded pool of workers,
// keeping the result index-aligned with chunks.
func (ix *Indexer) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	size := ix.batchSize()
	vecs := make([][]float32, len(chunks))

	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8 // Cap at 8 to avoid overwhelming the embedding API
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for start := 0; start < len(chunks); start += size {
		start, end := start, min(start+size, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			out, err := ix.Embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("got %d embeddings for %d texts", len(out), len(texts))
			}
			copy(vecs[start:end], out)
			log.Debug().Int("from", start).Int("to", end).Msg("embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// persist writes the records batch by batch and returns how many were stored.
func (ix *Indexer) persist(ctx context.Context, chunks []models.Chunk, vecs [][]float32) (int, error) {
	size := ix.batchSize()
	stored := 0
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batch := make([]vectorstore.Record, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, vectorstore.Record{
				ID:     chunks[i].Meta.ChunkID,
				Vector: vecs[i],
				Text:   chunks[i].Text,
				Meta:   chunks[i].Meta,
			})
		}
		if err := ix.Store.Add(ctx, batch); err != nil {
			return stored, err
		}
		stored = end
		log.Debug().Int("stored", stored).Int("total", len(chunks)).Msg("saved batch")
	}
	return stored, nil
}

// pruneStale removes vectors of the previous content of each document.
// Failures are logged; the new chunks are already stored.
func (ix *Indexer) pruneStale(ctx context.Context, docs []models.Document) int64 {
	var total int64
	for _, d := range docs {
		n, err := ix.Store.DeleteStale(ctx, d.Path, d.Meta.ContentHash)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total
			}
			log.Warn().Err(err).Str("path", d.Path).Msg("failed to remove stale chunks")
			continue
		}
		if n > 0 {
			log.Info().Str("path", d.Path).Int64("removed", n).Msg("removed stale chunks")
		}
		total += n
	}
	ix.Metrics.StaleRemoved(total)
	return total
}

// updates groups the stored documents by parent directory.
func (ix *Indexer) updates(docs []models.Document, chunks []models.Chunk) []registry.Update {
	perDoc := map[string]int{}
	for _, c := range chunks {
		perDoc[c.Meta.DocID]++
	}
	now := ix.Now().UTC()
	byDir := map[string]*registry.Update{}
	var order []string
	for _, d := range docs {
		u, ok := byDir[d.Meta.Parent]
		if !ok {
			u = &registry.Update{Dir: d.Meta.Parent, Files: map[string]registry.FileUpdate{}, At: now}
			byDir[d.Meta.Parent] = u
			order = append(order, d.Meta.Parent)
		}
		u.Files[d.Meta.Filename] = registry.FileUpdate{Hash: d.Meta.ContentHash, Chunks: perDoc[d.Path]}
	}
	out := make([]registry.Update, 0, len(order))
	for _, dir := range order {
		out = append(out, *byDir[dir])
	}
	return out
}

func (ix *Indexer) batchSize() int {
	if ix.BatchSize <= 0 || ix.BatchSize > DefaultBatchSize {
		return DefaultBatchSize
	}
	return ix.BatchSize
}
