package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/soko/internal/answer"
	"github.com/seanblong/soko/internal/app"
	"github.com/seanblong/soko/internal/auth"
	"github.com/seanblong/soko/internal/metrics"
	"github.com/seanblong/soko/pkg/models"
)

type server struct {
	app     *app.App
	auth    *auth.Authenticator
	gather  prometheus.Gatherer
	logger  zerolog.Logger
	timeout time.Duration
}

// Simple is the trimmed search result returned by /search.
type Simple struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

func output(res []models.SearchResult) []Simple {
	out := make([]Simple, 0, len(res))
	for _, r := range res {
		score := r.Score
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
		}
		out = append(out, Simple{
			DocID:      r.Meta.DocID,
			ChunkID:    r.Meta.ChunkID,
			ChunkIndex: r.Meta.ChunkIndex,
			Score:      score,
			Text:       r.Text,
		})
	}
	return out
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"enabled": s.auth.Enabled()})
	})
	mux.Handle("/metrics", metrics.Handler(s.gather))

	mux.Handle("/search", s.auth.Middleware(http.HandlerFunc(s.handleSearch)))
	mux.Handle("/ask", s.auth.Middleware(http.HandlerFunc(s.handleAsk)))
	mux.Handle("/ingest", s.auth.Middleware(http.HandlerFunc(s.handleIngest)))
	mux.Handle("/status", s.auth.Middleware(http.HandlerFunc(s.handleStatus)))

	m := s.app.Metrics
	return hlog.NewHandler(s.logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			m.ObserveRequest(r.Method, r.URL.Path, status, dur)
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("dur", dur).
				Msg("http")
		})(mux),
	)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid parameter k", http.StatusBadRequest)
			return
		}
		k = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.app.Query(ctx, q, k)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, output(res))
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var q string
	switch r.Method {
	case http.MethodGet:
		q = r.URL.Query().Get("q")
	case http.MethodPost:
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		q = req.Question
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*s.timeout)
	defer cancel()
	ans, err := s.app.Ask(ctx, q)
	switch {
	case errors.Is(err, answer.ErrEmptyQuestion):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("ask failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	ans.Results = nil
	writeJSON(w, ans)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing query parameter path", http.StatusBadRequest)
		return
	}
	rep, err := s.app.Ingest(r.Context(), path)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("path", path).Msg("ingest failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(rep)
		return
	}
	writeJSON(w, rep)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	st, err := s.app.Status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
