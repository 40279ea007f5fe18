// Package app wires configuration into the ingestion and question answering
// pipeline shared by the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/ai"
	"github.com/seanblong/soko/internal/answer"
	"github.com/seanblong/soko/internal/cache"
	"github.com/seanblong/soko/internal/chunker"
	"github.com/seanblong/soko/internal/config"
	"github.com/seanblong/soko/internal/indexer"
	"github.com/seanblong/soko/internal/loader"
	"github.com/seanblong/soko/internal/metrics"
	"github.com/seanblong/soko/internal/registry"
	"github.com/seanblong/soko/internal/search"
	"github.com/seanblong/soko/internal/vectorstore"
	"github.com/seanblong/soko/pkg/models"
)

// App holds the collaborators built from one configuration.
type App struct {
	Config   config.Specification
	Client   ai.Client
	Vectors  vectorstore.Store
	Registry registry.Store
	Cache    *cache.AnswerCache
	Metrics  *metrics.Metrics
	Indexer  *indexer.Indexer
	Search   *search.Service
	Answers  *answer.Service
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	provider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	cc := &ai.ClientConfig{Provider: provider, Dim: cfg.Dim, RequestsPerSecond: cfg.RPS}
	switch provider {
	case ai.ProviderOpenAI, ai.ProviderVertexAI:
		cc.APIKey = cfg.APIKey
		cc.EmbedModel = cfg.EmbedModel
		cc.ChatModel = cfg.ChatModel
		cc.ProjectID = cfg.ProjectID
		if provider == ai.ProviderVertexAI {
			cc.Location = cfg.Location
		}
	}
	return cc, nil
}

// New builds every collaborator. Nothing talks to the vector store until the
// first ingestion or query.
func New(ctx context.Context, cfg config.Specification, reg prometheus.Registerer) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create AI client: %w", err)
	}
	if client.Dim() <= 0 {
		return nil, errors.New("embedding dimension must be set")
	}

	var (
		vectors vectorstore.Store
		regs    registry.Store
	)
	switch strings.ToLower(cfg.VectorStore) {
	case "pgvector":
		vectors, err = vectorstore.NewPGStore(ctx, cfg.Database, cfg.Collection, client.Dim())
		if err != nil {
			return nil, fmt.Errorf("connect vector store: %w", err)
		}
		regs = registry.NewFileStore(cfg.RegistryPath)
	case "memory":
		// The registry must not outlive the vectors it describes.
		vectors = vectorstore.NewMemoryStore(client.Dim())
		regs = registry.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.VectorStore)
	}

	store, err := cache.Open(ctx, cache.Options{
		Backend:  cfg.CacheBackend,
		Path:     cfg.CachePath,
		RedisURL: cfg.RedisURL,
		MemSize:  cfg.CacheMemSize,
	})
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("open answer cache: %w", err)
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		vectors.Close()
		store.Close()
		return nil, err
	}

	m := metrics.New(reg)
	ix := indexer.New(loader.New(regs), ch, client, vectors, regs, m)
	ix.BatchSize = cfg.BatchSize

	svc := search.NewService(client, vectors, m)
	svc.Weights = search.Weights{Vector: cfg.VectorWeight, Keyword: cfg.KeywordWeight}

	answers := cache.New(store)
	a := &App{
		Config:   cfg,
		Client:   client,
		Vectors:  vectors,
		Registry: regs,
		Cache:    answers,
		Metrics:  m,
		Indexer:  ix,
		Search:   svc,
		Answers:  answer.NewService(svc, client, answers, m, cfg.TopK),
	}
	log.Debug().
		Str("provider", cfg.Provider).
		Int("dim", client.Dim()).
		Str("vector_store", cfg.VectorStore).
		Str("cache", cfg.CacheBackend).
		Msg("pipeline configured")
	return a, nil
}

// Close releases the vector store and cache connections.
func (a *App) Close() {
	a.Vectors.Close()
	if err := a.Cache.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close answer cache")
	}
}

// Ingest runs one ingestion and refreshes the keyword index when new chunks
// were stored.
func (a *App) Ingest(ctx context.Context, path string) (indexer.Report, error) {
	rep, err := a.Indexer.Ingest(ctx, path)
	if err != nil || !rep.Stored {
		return rep, err
	}
	if err := a.Search.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to refresh keyword index")
	}
	return rep, nil
}

// Query runs a hybrid search with topK results, the configured default when
// topK is not positive.
func (a *App) Query(ctx context.Context, q string, topK int) ([]models.SearchResult, error) {
	if err := a.Indexer.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("vector store unavailable: %w", err)
	}
	if topK <= 0 {
		topK = a.Config.TopK
	}
	return a.Search.Search(ctx, q, topK)
}

// Ask answers a question from the indexed content.
func (a *App) Ask(ctx context.Context, q string) (answer.Answer, error) {
	if err := a.Indexer.EnsureReady(ctx); err != nil {
		return answer.Answer{}, fmt.Errorf("vector store unavailable: %w", err)
	}
	return a.Answers.Ask(ctx, q)
}

// Status summarizes what has been ingested.
type Status struct {
	Directories []models.RegistryEntry `json:"directories"`
	Files       int                    `json:"files"`
	Chunks      int                    `json:"chunks"`
	Stored      int                    `json:"stored"`
	CacheSize   int                    `json:"cache_size"`
}

// Status reads the registry and the stored chunk and cache counts. Store
// and cache counts are -1 when unavailable.
func (a *App) Status(ctx context.Context) (Status, error) {
	entries, err := a.Registry.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read registry: %w", err)
	}
	st := Status{Directories: entries, Stored: -1, CacheSize: -1}
	for _, e := range entries {
		st.Files += e.FileCount
		st.Chunks += e.ChunkCount
	}
	if err := a.Indexer.EnsureReady(ctx); err == nil {
		if n, err := a.Vectors.Count(ctx); err == nil {
			st.Stored = n
		}
	} else {
		log.Warn().Err(err).Msg("vector store unavailable")
	}
	if n, err := a.Cache.Size(ctx); err == nil {
		st.CacheSize = n
	}
	return st, nil
}

// Target names what Reset clears.
type Target string

const (
	TargetCache    Target = "cache"
	TargetIndex    Target = "index"
	TargetRegistry Target = "registry"
	TargetAll      Target = "all"
)

// ParseTarget validates a reset target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetCache, TargetIndex, TargetRegistry, TargetAll:
		return t, nil
	default:
		return "", fmt.Errorf("unknown reset target %q (cache, index, registry, all)", s)
	}
}

// Reset clears state. Resetting the index also clears the answer cache,
// since cached answers were built from the removed chunks.
func (a *App) Reset(ctx context.Context, t Target) error {
	clearCache := t == TargetCache || t == TargetIndex || t == TargetAll
	clearIndex := t == TargetIndex || t == TargetAll
	clearRegistry := t == TargetRegistry || t == TargetAll

	if clearIndex {
		if err := a.Indexer.EnsureReady(ctx); err != nil {
			return fmt.Errorf("vector store unavailable: %w", err)
		}
		if err := a.Vectors.Reset(ctx); err != nil {
			return fmt.Errorf("reset vector store: %w", err)
		}
		if err := a.Search.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to refresh keyword index")
		}
		log.Info().Str("collection", a.Config.Collection).Msg("vector store cleared")
	}
	if clearCache {
		if err := a.Cache.Clear(ctx); err != nil {
			return fmt.Errorf("clear answer cache: %w", err)
		}
		log.Info().Msg("answer cache cleared")
	}
	if clearRegistry {
		if err := a.Registry.Reset(ctx); err != nil {
			return fmt.Errorf("reset registry: %w", err)
		}
		log.Info().Msg("registry cleared")
	}
	return nil
}

// SetupLogging sets the global zerolog level and writer. Console output is
// human-readable; otherwise records are JSON lines.
func SetupLogging(level string, w io.Writer, console bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}
