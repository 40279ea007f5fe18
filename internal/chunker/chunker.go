package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/soko/pkg/models"
)

// separators in priority order, most structural first. The empty separator
// means character windows.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits text into segments of at most Size characters.
type Chunker struct {
	Size    int
	Overlap int
}

// New returns a Chunker after checking 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// Chunk splits every document and stamps chunk_index and doc_id on a copy of
// the document metadata.
func (c *Chunker) Chunk(docs []models.Document) []models.Chunk {
	var out []models.Chunk
	for _, d := range docs {
		if d.Text == "" {
			continue
		}
		for i, text := range c.Split(d.Text) {
			meta := d.Meta
			meta.ChunkIndex = i
			meta.DocID = d.Path
			out = append(out, models.Chunk{Text: text, SourcePath: d.Path, Meta: meta})
		}
	}
	return out
}

// Split breaks text on the most structural separator present, packing pieces
// greedily up to Size. Pieces still too long are split with the next
// separator; with none left the text is cut into windows of Size characters
// that advance by Size-Overlap.
func (c *Chunker) Split(text string) []string {
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.Size {
		return keep(nil, text)
	}
	if len(seps) == 0 || seps[0] == "" {
		return c.windows(text)
	}
	sep, rest := seps[0], seps[1:]
	if !strings.Contains(text, sep) {
		return c.split(text, rest)
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
		open   bool
	)
	sepLen := utf8.RuneCountInString(sep)
	flush := func() {
		if open {
			out = keep(out, buf.String())
		}
		buf.Reset()
		bufLen = 0
		open = false
	}

	for _, piece := range strings.Split(text, sep) {
		n := utf8.RuneCountInString(piece)
		if n > c.Size {
			flush()
			out = append(out, c.split(piece, rest)...)
			continue
		}
		if open && bufLen+sepLen+n > c.Size {
			flush()
		}
		if open {
			buf.WriteString(sep)
			bufLen += sepLen
		}
		buf.WriteString(piece)
		bufLen += n
		open = true
	}
	flush()
	return out
}

// windows slices text into overlapping character windows until the start
// offset passes the end of the text.
func (c *Chunker) windows(text string) []string {
	r := []rune(text)
	step := c.Size - c.Overlap
	var out []string
	for start := 0; start < len(r); start += step {
		end := min(start+c.Size, len(r))
		out = keep(out, string(r[start:end]))
	}
	return out
}

// keep appends s unless it holds only whitespace.
func keep(out []string, s string) []string {
	if strings.TrimSpace(s) == "" {
		return out
	}
	return append(out, s)
}
