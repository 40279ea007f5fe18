package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/seanblong/soko/internal/answer"
	"github.com/seanblong/soko/internal/app"
	"github.com/seanblong/soko/internal/auth"
	"github.com/seanblong/soko/internal/config"
	"github.com/seanblong/soko/internal/indexer"
	"github.com/seanblong/soko/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, authEnabled bool) (*server, http.Handler) {
	t.Helper()
	data := t.TempDir()
	cfg := config.Specification{
		Provider:      "stub",
		Dim:           128,
		VectorStore:   "memory",
		Collection:    "soko_docs",
		DataDir:       data,
		RegistryPath:  filepath.Join(data, "registry.json"),
		CacheBackend:  "memory",
		CacheMemSize:  16,
		ChunkSize:     1000,
		ChunkOverlap:  200,
		TopK:          3,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		BatchSize:     500,
		LogLevel:      "info",
	}
	reg := prometheus.NewRegistry()
	a, err := app.New(context.Background(), cfg, reg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	authn, err := auth.New("test-secret", authEnabled)
	require.NoError(t, err)

	s := &server{app: a, auth: authn, gather: reg, logger: zerolog.Nop(), timeout: 5 * time.Second}
	return s, s.routes()
}

func do(h http.Handler, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func ingestCorpus(t *testing.T, h http.Handler) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rings.txt"), []byte("Miyamoto Musashi wrote the Book of Five Rings."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tea.md"), []byte("The tea ceremony values harmony."), 0o644))

	rec := do(h, http.MethodPost, "/ingest?path="+url.QueryEscape(dir), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep indexer.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.True(t, rep.Stored)
	return dir
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t, true)
	rec := do(h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestSearchHandler(t *testing.T) {
	_, h := newTestServer(t, false)
	ingestCorpus(t, h)

	rec := do(h, http.MethodGet, "/search?q=Musashi+Five+Rings&k=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []Simple
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Contains(t, got[0].DocID, "rings.txt")
	assert.Contains(t, got[0].Text, "Musashi")
}

func TestSearchHandler_BadRequests(t *testing.T) {
	_, h := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"missing q", http.MethodGet, "/search", http.StatusBadRequest},
		{"blank q", http.MethodGet, "/search?q=+++", http.StatusBadRequest},
		{"bad k", http.MethodGet, "/search?q=tea&k=abc", http.StatusBadRequest},
		{"negative k", http.MethodGet, "/search?q=tea&k=-1", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/search?q=tea", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, "", nil)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestAskHandler(t *testing.T) {
	_, h := newTestServer(t, false)
	ingestCorpus(t, h)

	rec := do(h, http.MethodPost, "/ask", `{"question":"Who wrote the Book of Five Rings?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.Contains(t, first.Text, "Musashi")
	assert.NotContains(t, rec.Body.String(), `"results"`)

	rec = do(h, http.MethodGet, "/ask?q="+url.QueryEscape("Who wrote the Book of Five Rings?"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var second answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
}

func TestAskHandler_Errors(t *testing.T) {
	_, h := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"empty question", http.MethodGet, "/ask?q=", "", http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/ask", "{", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/ask", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, tt.body, nil)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestIngestHandler_Errors(t *testing.T) {
	_, h := newTestServer(t, false)

	rec := do(h, http.MethodGet, "/ingest?path=/tmp", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(h, http.MethodPost, "/ingest", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := filepath.Join(t.TempDir(), "missing")
	rec = do(h, http.MethodPost, "/ingest?path="+url.QueryEscape(missing), "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rep indexer.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.False(t, rep.Stored)
	assert.NotEmpty(t, rep.Reason)
}

func TestStatusHandler(t *testing.T) {
	_, h := newTestServer(t, false)
	dir := ingestCorpus(t, h)

	rec := do(h, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st app.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st.Directories, 1)
	assert.Equal(t, dir, st.Directories[0].Path)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 2, st.Stored)
	assert.Equal(t, 0, st.CacheSize)
}

func TestAuthRequired(t *testing.T) {
	s, h := newTestServer(t, true)
	token, err := s.auth.IssueToken("ops", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header http.Header
		status int
	}{
		{"no token", "/status", nil, http.StatusUnauthorized},
		{"bad token", "/status", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"valid token", "/status", http.Header{"Authorization": {"Bearer " + token}}, http.StatusOK},
		{"healthz is open", "/healthz", nil, http.StatusOK},
		{"metrics is open", "/metrics", nil, http.StatusOK},
		{"auth status is open", "/auth/status", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.target, "", tt.header)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestAuthStatus(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		_, h := newTestServer(t, enabled)
		rec := do(h, http.MethodGet, "/auth/status", "", nil)
		var got map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, enabled, got["enabled"])
	}
}

func TestMetricsExposeRequests(t *testing.T) {
	_, h := newTestServer(t, false)
	do(h, http.MethodGet, "/healthz", "", nil)

	rec := do(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `soko_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestOutput_SanitizesScores(t *testing.T) {
	res := output([]models.SearchResult{
		{Score: math.NaN(), Text: "a", Meta: models.Meta{DocID: "a.txt", ChunkID: "a.txt#0"}},
		{Score: math.Inf(1), Text: "b", Meta: models.Meta{DocID: "b.txt", ChunkIndex: 1}},
		{Score: 0.5, Text: "c"},
	})

	expected := []float64{0, 0, 0.5}
	for i, r := range res {
		if r.Score != expected[i] {
			t.Errorf("Expected score %v at %d, got %v", expected[i], i, r.Score)
		}
	}
	if res[0].ChunkID != "a.txt#0" || res[1].ChunkIndex != 1 {
		t.Errorf("Expected metadata to be carried over, got %+v", res[:2])
	}
}
