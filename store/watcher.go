package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher prunes recordings whose media file was deleted out-of-band, e.g.
// by a user cleaning the recordings directory in a file manager.
type Watcher struct {
	ctx   context.Context
	dir   string
	store *Store
	log   *zap.Logger

	fsWatcher *fsnotify.Watcher
}

func NewWatcher(ctx context.Context, dir string, store *Store, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		ctx:   ctx,
		dir:   dir,
		store: store,
		log:   logger.Named("store.watcher"),
	}
}

// Start begins watching the recordings directory.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := fsWatcher.Add(w.dir); err != nil {
		fsWatcher.Close()
		return err
	}

	w.fsWatcher = fsWatcher

	go w.loop()

	w.log.Info("watching recordings directory", zap.String("dir", w.dir))

	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("recordings watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".mp4") {
		return
	}

	err := w.store.RemoveByFilename(name)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		w.log.Warn("pruning removed recording", zap.String("filename", name), zap.Error(err))
		return
	}

	w.log.Info("recording file removed externally, record pruned", zap.String("filename", name))
}

// Close stops the watcher.
func (w *Watcher) Close() {
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}
