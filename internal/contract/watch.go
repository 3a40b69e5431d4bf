package contract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a contract file into a Source when it changes on disk.
// A file that fails to parse leaves the previous contracts active.
type Watcher struct {
	watcher  *fsnotify.Watcher
	source   *Source
	path     string
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher watches the directory holding path, so editors that replace
// the file by rename are picked up as well.
func NewWatcher(source *Source, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("contract: resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("contract: create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("contract: watch %q: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:  watcher,
		source:   source,
		path:     abs,
		logger:   logger.With("component", "contract-watcher"),
		debounce: defaultDebounce,
	}, nil
}

// Reload loads the contract file and swaps it into the Source on success.
func (w *Watcher) Reload() error {
	repo, err := Load(w.path)
	if err != nil {
		return err
	}
	w.source.Swap(repo)
	return nil
}

// Run watches for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("contract reload failed, keeping previous contracts", "path", w.path, "error", err)
					return
				}
				repo := w.source.Current()
				w.logger.Info("contracts reloaded", "path", w.path, "agencies", repo.Len(), "contract_hash", repo.Hash())
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
