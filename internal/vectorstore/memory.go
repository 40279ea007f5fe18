package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps vectors in process. Queries are exact and linear.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	order   []string
	records map[string]Record
}

// NewMemoryStore returns an empty store. dim of 0 accepts any dimension.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, records: map[string]Record{}}
}

func (m *MemoryStore) Ready(ctx context.Context) error { return nil }

func (m *MemoryStore) Add(ctx context.Context, records []Record) error {
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record without id")
		}
		if m.dim > 0 && len(r.Vector) != m.dim {
			return fmt.Errorf("record %s: expected %d dimensions, got %d", r.ID, m.dim, len(r.Vector))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		r.Vector = append([]float32(nil), r.Vector...)
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Match, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		out = append(out, Match{ID: r.ID, Text: r.Text, Meta: r.Meta, Distance: cosineDistance(vec, r.Vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) All(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		r.Vector = nil
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Meta.DocID != out[j].Meta.DocID {
			return out[i].Meta.DocID < out[j].Meta.DocID
		}
		return out[i].Meta.ChunkIndex < out[j].Meta.ChunkIndex
	})
	return out, nil
}

func (m *MemoryStore) DeleteStale(ctx context.Context, docID, keepHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		r := m.records[id]
		if r.Meta.DocID == docID && r.Meta.ContentHash != keepHash {
			delete(m.records, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.records = map[string]Record{}
	return nil
}

func (m *MemoryStore) Close() {}

// cosineDistance is 1 - cosine similarity; a zero vector is at distance 1
// from everything.
func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
