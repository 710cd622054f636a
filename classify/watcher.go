package classify

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/logger"
)

// Watcher reloads the mappings file when it changes on disk, replacing the
// classifier wholesale on each successful reload. A file that fails to
// parse or validate leaves the previous classifier in place.
type Watcher struct {
	path           string
	watcher        *fsnotify.Watcher
	callbacks      []func(*Classifier)
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// NewWatcher creates a watcher over the mappings file.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch mappings file %s", path)
	}

	return &Watcher{
		path:           path,
		watcher:        fw,
		debouncePeriod: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback receiving each successfully reloaded
// classifier.
func (w *Watcher) OnReload(callback func(*Classifier)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for mappings changes.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Infow("Mappings change detected", "file", event.Name)
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Mappings watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *Watcher) reload() {
	mappings, err := LoadMappings(w.path)
	if err != nil {
		logger.Errorw("Mappings reload failed, keeping previous mappings",
			"path", w.path,
			"error", err)
		return
	}

	classifier := NewClassifier(mappings)
	logger.Infow("Mappings reloaded",
		"path", w.path,
		"accounts", len(mappings.Accounts))

	w.mu.RLock()
	callbacks := make([]func(*Classifier), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		callback(classifier)
	}
}
