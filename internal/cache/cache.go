// Package cache maps a (question, context) pair to a previously generated
// answer so the language model is only called once per distinct pair.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/pkg/models"
)

// ErrMiss is returned by a Store when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Store is a key/value backend for cache entries. Set overwrites.
type Store interface {
	Get(ctx context.Context, key string) (models.CacheEntry, error)
	Set(ctx context.Context, key string, e models.CacheEntry) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Close() error
}

// Key returns the hex sha256 of the trimmed question and context. The NUL
// separator keeps ("ab", "c") and ("a", "bc") apart.
func Key(question, retrieved string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(question)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(retrieved)))
	return hex.EncodeToString(h.Sum(nil))
}

// AnswerCache fronts a Store. Backend failures never reach the caller as
// errors on the read path; they are logged and reported as a miss.
type AnswerCache struct {
	store Store
	Now   func() time.Time
}

func New(store Store) *AnswerCache {
	return &AnswerCache{store: store, Now: time.Now}
}

// Get returns the cached entry for key and whether it was found.
func (c *AnswerCache) Get(ctx context.Context, key string) (models.CacheEntry, bool) {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Warn().Err(err).Str("key", key).Msg("answer cache read failed, treating as miss")
		}
		return models.CacheEntry{}, false
	}
	return e, true
}

// Set stores answer under key, replacing any previous entry.
func (c *AnswerCache) Set(ctx context.Context, key, answer, model string) error {
	e := models.CacheEntry{Answer: answer, Model: model, CreatedAt: c.Now().UTC()}
	if err := c.store.Set(ctx, key, e); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *AnswerCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *AnswerCache) Size(ctx context.Context) (int, error) {
	return c.store.Size(ctx)
}

func (c *AnswerCache) Close() error {
	return c.store.Close()
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend  string // sqlite, redis or memory
	Path     string
	RedisURL string
	MemSize  int
	TTL      time.Duration
}

// Open creates the configured backend.
func Open(ctx context.Context, o Options) (Store, error) {
	switch strings.ToLower(o.Backend) {
	case "sqlite", "":
		return NewSQLiteStore(ctx, o.Path)
	case "redis":
		return NewRedisStore(ctx, o.RedisURL, "")
	case "memory":
		return NewMemoryStore(o.MemSize, o.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", o.Backend)
	}
}
