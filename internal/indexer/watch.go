package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/loader"
)

// DefaultDebounce is how long a watcher waits for the tree to settle.
const DefaultDebounce = 2 * time.Second

// IngestFunc runs one ingestion of path.
type IngestFunc func(ctx context.Context, path string) (Report, error)

// Watcher re-ingests a directory tree after it changes. Bursts of events are
// coalesced into one run once no event arrived for Debounce.
type Watcher struct {
	Ingest   IngestFunc
	Debounce time.Duration
}

// Watch ingests root once, then on every settled change until ctx is done.
// New subdirectories are watched as they appear.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s", loader.ErrNotFound, root)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch needs a directory: %s", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, root); err != nil {
		return err
	}
	log.Info().Str("path", root).Msg("watching for changes")
	w.run(ctx, root)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !loader.SkipDir(fi.Name()) {
					if err := addTree(fw, ev.Name); err != nil {
						log.Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new directory")
					}
				}
			}
			log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("change detected")
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			pending = true
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			pending = false
			w.run(ctx, root)
		}
	}
}

func (w *Watcher) run(ctx context.Context, root string) {
	rep, err := w.Ingest(ctx, root)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("path", root).Msg(rep.Reason)
		}
		return
	}
	log.Info().Str("path", root).Bool("stored", rep.Stored).Msg(rep.Reason)
}

// relevant drops events that cannot change ingestible content.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	if _, ok := loader.FormatOf(ev.Name); ok {
		return true
	}
	fi, err := os.Stat(ev.Name)
	return err == nil && fi.IsDir()
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			if path != root && loader.SkipDir(de.Name()) {
				return godirwalk.SkipThis
			}
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
}
