package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PGStore stores chunks in Postgres with the pgvector extension. All
// collections share one table, partitioned by the collection column.
type PGStore struct {
	pool       *pgxpool.Pool
	collection string
	dim        int

	mu    sync.Mutex
	ready bool
}

// NewPGStore creates a store connected to the given database URL. The schema
// is created by Ready.
func NewPGStore(ctx context.Context, url, collection string, dim int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGStore{pool: p, collection: collection, dim: dim}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Ready applies the schema once per process.
func (s *PGStore) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  collection    TEXT NOT NULL,
  doc_id        TEXT NOT NULL,
  chunk_index   INT NOT NULL,
  content_hash  TEXT NOT NULL,
  text          TEXT NOT NULL,
  meta          JSONB NOT NULL,
  embedding     vector(%d) NOT NULL,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_collection_doc_idx
  ON chunks (collection, doc_id);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING hnsw (embedding vector_cosine_ops);
`
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(q, s.dim)); err != nil {
		return fmt.Errorf("migrate vector store: %w", err)
	}
	s.ready = true
	return nil
}

// Add upserts the records in a single transaction.
func (s *PGStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chunks (id, collection, doc_id, chunk_index, content_hash, text, meta, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			collection   = EXCLUDED.collection,
			doc_id       = EXCLUDED.doc_id,
			chunk_index  = EXCLUDED.chunk_index,
			content_hash = EXCLUDED.content_hash,
			text         = EXCLUDED.text,
			meta         = EXCLUDED.meta,
			embedding    = EXCLUDED.embedding`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			meta, err := json.Marshal(r.Meta)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
			}
			batch.Queue(q, r.ID, s.collection, r.Meta.DocID, r.Meta.ChunkIndex, r.Meta.ContentHash,
				r.Text, meta, pgvector.NewVector(r.Vector))
		}
		br := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert chunk: %w", err)
			}
		}
		return br.Close()
	})
}

func (s *PGStore) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, text, meta, embedding <=> $1::vector AS distance
		FROM chunks
		WHERE collection = $2
		ORDER BY distance
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), s.collection, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var meta []byte
		if err := rows.Scan(&m.ID, &m.Text, &meta, &m.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &m.Meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE collection = $1`, s.collection).Scan(&n)
	return n, err
}

func (s *PGStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, meta FROM chunks WHERE collection = $1 ORDER BY doc_id, chunk_index`, s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var meta []byte
		if err := rows.Scan(&r.ID, &r.Text, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &r.Meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteStale(ctx context.Context, docID, keepHash string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE collection = $1 AND doc_id = $2 AND content_hash <> $3`,
		s.collection, docID, keepHash)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE collection = $1`, s.collection)
	return err
}

var _ Store = (*PGStore)(nil)
var _ Store = (*MemoryStore)(nil)
