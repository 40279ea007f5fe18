package models

import (
	"strconv"
	"time"
)

// Meta is the metadata carried by documents, and extended per chunk.
type Meta struct {
	Filename    string    `json:"filename"`
	Extension   string    `json:"extension"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	Parent      string    `json:"parent"`
	ContentHash string    `json:"content_hash"`

	// Chunk-level fields, zero on documents.
	ChunkIndex int    `json:"chunk_index"`
	DocID      string `json:"doc_id,omitempty"`
	ChunkID    string `json:"chunk_id,omitempty"`
}

// Identity returns the key used to merge the same chunk across retrieval
// signals: chunk_id when stamped, otherwise doc_id#chunk_index.
func (m Meta) Identity() string {
	if m.ChunkID != "" {
		return m.ChunkID
	}
	return m.DocID + "#" + strconv.Itoa(m.ChunkIndex)
}

// Document is the extracted plain text of one file.
type Document struct {
	Path string `json:"path"`
	Text string `json:"text"`
	Meta Meta   `json:"meta"`
}

// Chunk is a bounded segment of a document, the unit of embedding and retrieval.
type Chunk struct {
	Text       string `json:"text"`
	SourcePath string `json:"source_path"`
	Meta       Meta   `json:"meta"`
}

type SearchResult struct {
	Score float64 `json:"score"`
	Text  string  `json:"text"`
	Meta  Meta    `json:"meta"`
}

// RegistryEntry records what has been ingested from one source directory.
type RegistryEntry struct {
	Path       string            `json:"path"`
	Files      map[string]string `json:"files"`
	FileCount  int               `json:"file_count"`
	ChunkCount int               `json:"chunk_count"`
	IngestedAt time.Time         `json:"ingested_at"`

	// FileChunks holds the chunk count of each file's current content;
	// ChunkCount is its sum.
	FileChunks map[string]int `json:"file_chunks,omitempty"`
}

type CacheEntry struct {
	Answer    string    `json:"answer"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}
