package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// Format selects the text extractor for a file.
type Format int

const (
	FormatText Format = iota
	FormatMarkdown
	FormatPDF
	FormatCode
	FormatCSV
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatMarkdown:
		return "markdown"
	case FormatPDF:
		return "pdf"
	case FormatCode:
		return "code"
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

var formats = map[string]Format{
	".txt":  FormatText,
	".md":   FormatMarkdown,
	".pdf":  FormatPDF,
	".py":   FormatCode,
	".go":   FormatCode,
	".js":   FormatCode,
	".ts":   FormatCode,
	".java": FormatCode,
	".rb":   FormatCode,
	".rs":   FormatCode,
	".sh":   FormatCode,
	".csv":  FormatCSV,
	".json": FormatJSON,
}

// FormatOf returns the format for path's extension, case-insensitively.
func FormatOf(path string) (Format, bool) {
	f, ok := formats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// extract returns the plain text of the file at path.
func (l *Loader) extract(path string, f Format) (string, error) {
	switch f {
	case FormatText, FormatMarkdown, FormatCode:
		b, err := l.readAll(path)
		if err != nil {
			return "", err
		}
		return strings.ToValidUTF8(string(b), ""), nil
	case FormatCSV:
		b, err := l.readAll(path)
		if err != nil {
			return "", err
		}
		return csvText(b)
	case FormatJSON:
		b, err := l.readAll(path)
		if err != nil {
			return "", err
		}
		return jsonText(b)
	case FormatPDF:
		return pdfText(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
}

func (l *Loader) readAll(path string) ([]byte, error) {
	rc, err := l.FileReader.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to close file")
		}
	}()
	return io.ReadAll(rc)
}

// csvText joins the fields of each row with a space and rows with newlines.
func csvText(b []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, strings.Join(rec, " "))
	}
	return strings.ToValidUTF8(strings.Join(rows, "\n"), ""), nil
}

// jsonText re-indents the document, keeping key order. Malformed JSON fails
// the whole file.
func jsonText(b []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(b), "", "  "); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	return buf.String(), nil
}

// pdfText concatenates page texts with newlines. A page that cannot be
// extracted contributes an empty string.
func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to close pdf")
		}
	}()

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, pageText(r, i, path))
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(r *pdf.Reader, i int, path string) (text string) {
	// The pdf package panics on some malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			log.Debug().Str("path", path).Int("page", i).Interface("panic", rec).Msg("pdf page extraction failed")
			text = ""
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Int("page", i).Msg("pdf page extraction failed")
		return ""
	}
	return s
}
