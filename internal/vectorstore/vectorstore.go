package vectorstore

import (
	"context"

	"github.com/seanblong/soko/pkg/models"
)

// Record is one stored chunk. Vector is empty on records returned by All.
type Record struct {
	ID     string
	Vector []float32
	Text   string
	Meta   models.Meta
}

// Match is a nearest-neighbor hit. Distance is cosine distance, lower is closer.
type Match struct {
	ID       string
	Text     string
	Meta     models.Meta
	Distance float64
}

// Store persists chunk vectors for one collection.
type Store interface {
	// Ready creates the collection if absent. It is idempotent and must be
	// called before any other method.
	Ready(ctx context.Context) error
	// Add upserts records by ID.
	Add(ctx context.Context, records []Record) error
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	// All returns every stored record without vectors, ordered by doc_id and
	// chunk_index.
	All(ctx context.Context) ([]Record, error)
	// DeleteStale removes the chunks of docID whose content hash differs
	// from keepHash and reports how many were removed.
	DeleteStale(ctx context.Context, docID, keepHash string) (int64, error)
	Reset(ctx context.Context) error
	Close()
}
