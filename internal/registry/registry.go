package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/pkg/models"
)

// Store is the durable record of what has been ingested, keyed by source
// directory.
type Store interface {
	// Get returns the entry for dir; ok is false when dir was never ingested.
	Get(ctx context.Context, dir string) (entry models.RegistryEntry, ok bool, err error)
	// Commit applies every update in one load-modify-save cycle.
	Commit(ctx context.Context, updates []Update) error
	List(ctx context.Context) ([]models.RegistryEntry, error)
	Reset(ctx context.Context) error
}

// FileUpdate is the newly stored content of one file.
type FileUpdate struct {
	Hash   string
	Chunks int
}

// Update records the files freshly stored for one source directory.
type Update struct {
	Dir   string
	Files map[string]FileUpdate
	At    time.Time
}

// apply folds u into e. Files not named in u keep their previous hash.
func apply(e models.RegistryEntry, u Update) models.RegistryEntry {
	if e.Files == nil {
		e.Files = map[string]string{}
	}
	if e.FileChunks == nil {
		e.FileChunks = map[string]int{}
	}
	e.Path = u.Dir
	for name, f := range u.Files {
		e.Files[name] = f.Hash
		e.FileChunks[name] = f.Chunks
	}
	e.FileCount = len(e.Files)
	e.ChunkCount = 0
	for _, n := range e.FileChunks {
		e.ChunkCount += n
	}
	e.IngestedAt = u.At
	return e
}

func sorted(m map[string]models.RegistryEntry) []models.RegistryEntry {
	out := make([]models.RegistryEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// lockRetry is how often a blocked Commit or Reset polls the lock file.
const lockRetry = 50 * time.Millisecond

// FileStore persists the registry as a JSON array of entries. Writers in
// separate processes serialize on an advisory lock at path + ".lock".
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a registry backed by the JSON file at path. The file is
// created on the first commit.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// lock takes the cross-process lock and returns the func that releases it.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	fl := flock.New(s.path + ".lock")
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock registry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock registry: %s is held by another writer", s.path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warn().Err(err).Str("path", fl.Path()).Msg("failed to release registry lock")
		}
	}, nil
}

func (s *FileStore) load() (map[string]models.RegistryEntry, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.RegistryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var entries []models.RegistryEntry
	if len(b) > 0 {
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("parse registry %s: %w", s.path, err)
		}
	}
	m := make(map[string]models.RegistryEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m, nil
}

// save writes through a temp file and rename so readers never see a torn file.
func (s *FileStore) save(m map[string]models.RegistryEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	b, err := json.MarshalIndent(sorted(m), "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", tmp.Name()).Msg("failed to remove temp registry")
		}
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Get(ctx context.Context, dir string) (models.RegistryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return models.RegistryEntry{}, false, err
	}
	e, ok := m[dir]
	return e, ok, nil
}

func (s *FileStore) Commit(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	for _, u := range updates {
		m[u.Dir] = apply(m[u.Dir], u)
	}
	if err := s.save(m); err != nil {
		return err
	}
	log.Debug().Int("dirs", len(updates)).Str("path", s.path).Msg("registry committed")
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]models.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return sorted(m), nil
}

func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove registry: %w", err)
	}
	return nil
}

// MemoryStore is a Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.RegistryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]models.RegistryEntry{}}
}

func (s *MemoryStore) Get(ctx context.Context, dir string) (models.RegistryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[dir]
	return clone(e), ok, nil
}

func (s *MemoryStore) Commit(ctx context.Context, updates []Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		s.entries[u.Dir] = apply(clone(s.entries[u.Dir]), u)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sorted(s.entries)
	for i := range out {
		out[i] = clone(out[i])
	}
	return out, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]models.RegistryEntry{}
	return nil
}

func clone(e models.RegistryEntry) models.RegistryEntry {
	if e.Files != nil {
		files := make(map[string]string, len(e.Files))
		for k, v := range e.Files {
			files[k] = v
		}
		e.Files = files
	}
	if e.FileChunks != nil {
		fc := make(map[string]int, len(e.FileChunks))
		for k, v := range e.FileChunks {
			fc[k] = v
		}
		e.FileChunks = fc
	}
	return e
}
