package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/registry"
	"github.com/seanblong/soko/pkg/models"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNotFound    = errors.New("path not found")
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	Open(name string) (io.ReadCloser, error)
	Stat(name string) (fs.FileInfo, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (d *DefaultFileReader) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Loader turns a file or directory into Documents for new or changed content.
type Loader struct {
	Registry   registry.Store
	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates a Loader reading from the local filesystem.
func New(reg registry.Store) *Loader {
	return &Loader{
		Registry:   reg,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// Result is the outcome of one Load call.
type Result struct {
	Documents []models.Document
	// Candidates is the number of supported files found.
	Candidates int
	// Unchanged counts files whose hash matched the registry.
	Unchanged int
	// Failed counts files that could not be read or extracted.
	Failed int
	// Empty counts files whose extracted text was blank.
	Empty int
}

// Load discovers supported files under path, skips those whose content hash
// is already registered for their directory and extracts the rest.
func (l *Loader) Load(ctx context.Context, path string) (Result, error) {
	var res Result

	abs, err := filepath.Abs(path)
	if err != nil {
		return res, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := l.FileReader.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return res, fmt.Errorf("stat %s: %w", path, err)
	}

	var candidates []string
	if info.IsDir() {
		candidates, err = l.discover(ctx, abs)
		if err != nil {
			return res, err
		}
	} else {
		if _, ok := FormatOf(abs); !ok {
			return res, fmt.Errorf("%w: %s", ErrUnsupported, path)
		}
		candidates = []string{abs}
	}
	res.Candidates = len(candidates)

	known := map[string]models.RegistryEntry{}
	start := time.Now()
	for i, p := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		doc, status := l.loadOne(ctx, p, known)
		switch status {
		case statusLoaded:
			res.Documents = append(res.Documents, doc)
		case statusUnchanged:
			res.Unchanged++
		case statusFailed:
			res.Failed++
		case statusEmpty:
			res.Empty++
		}
		logProgress(i+1, len(candidates), start, p)
	}

	log.Info().
		Str("path", abs).
		Int("candidates", res.Candidates).
		Int("new_or_changed", len(res.Documents)).
		Int("unchanged", res.Unchanged).
		Int("failed", res.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("load complete")
	return res, nil
}

type loadStatus int

const (
	statusLoaded loadStatus = iota
	statusUnchanged
	statusFailed
	statusEmpty
)

// loadOne hashes, checks and extracts a single candidate. known memoizes
// registry entries per parent directory.
func (l *Loader) loadOne(ctx context.Context, p string, known map[string]models.RegistryEntry) (models.Document, loadStatus) {
	parent := filepath.Dir(p)
	name := filepath.Base(p)

	hash, err := l.hashFile(p)
	if err != nil {
		log.Warn().Err(err).Str("path", p).Msg("failed to hash file")
		return models.Document{}, statusFailed
	}

	entry, ok := known[parent]
	if !ok && l.Registry != nil {
		entry, _, err = l.Registry.Get(ctx, parent)
		if err != nil {
			log.Warn().Err(err).Str("dir", parent).Msg("registry lookup failed, treating files as new")
		}
		known[parent] = entry
	}
	if prev, seen := entry.Files[name]; seen && prev == hash {
		log.Debug().Str("path", p).Msg("unchanged, skipping")
		return models.Document{}, statusUnchanged
	}

	format, _ := FormatOf(p)
	text, err := l.extract(p, format)
	if err != nil {
		log.Warn().Err(err).Str("path", p).Str("format", format.String()).Msg("extraction failed, skipping file")
		return models.Document{}, statusFailed
	}
	if strings.TrimSpace(text) == "" {
		log.Debug().Str("path", p).Msg("no text extracted")
		return models.Document{}, statusEmpty
	}

	meta := models.Meta{
		Filename:    name,
		Extension:   strings.ToLower(filepath.Ext(p)),
		Parent:      parent,
		ContentHash: hash,
	}
	if info, err := l.FileReader.Stat(p); err == nil {
		meta.Size = info.Size()
		meta.Modified = info.ModTime().UTC()
	}
	return models.Document{Path: p, Text: text, Meta: meta}, statusLoaded
}

// hashFile returns the hex sha256 digest of the file, streamed in 8 KiB reads.
func (l *Loader) hashFile(p string) (string, error) {
	rc, err := l.FileReader.Open(p)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("failed to close file")
		}
	}()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, rc, make([]byte, 8192)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// discover lists supported files under root in lexicographic order.
func (l *Loader) discover(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := l.Walker.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Handle test case where de might be nil (for MockFileSystemWalker)
			if de != nil && de.IsDir() {
				if path != root && SkipDir(de.Name()) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if _, ok := FormatOf(path); !ok {
				return nil
			}
			out = append(out, path)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("walk error, skipping")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

// SkipDir reports directories that never hold user content.
func SkipDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", ".hg", ".svn", "node_modules", "vendor", ".venv", "venv",
		"__pycache__", ".pytest_cache", ".idea", ".cache", ".terraform":
		return true
	}
	return false
}

func logProgress(done, total int, start time.Time, path string) {
	elapsed := time.Since(start)
	var eta time.Duration
	if done > 0 && done < total {
		eta = time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	}
	log.Debug().
		Int("processed", done).
		Int("total", total).
		Dur("elapsed", elapsed).
		Dur("eta", eta).
		Str("path", path).
		Msg("loading")
}
