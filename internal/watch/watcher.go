// Package watch observes the store file for writes by other processes and
// fires invalidation so holders of cached entity data reload. Bursts of
// filesystem events are debounced into a single notification.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DebounceWindow is how long the watcher waits for a write burst to settle
// before notifying.
const DebounceWindow = 500 * time.Millisecond

// Invalidator receives the invalidation fired after external writes. The
// store manager satisfies it.
type Invalidator interface {
	NotifyInvalidated(entities ...string)
	Resolved() []string
}

// Watcher watches one store file (and its write-ahead log) for external
// modification. The set of entities to invalidate is snapshotted from the
// Invalidator when the watcher starts, so start it only after every DAO has
// been resolved.
type Watcher struct {
	inv       Invalidator
	storePath string
	entities  []string
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher over the store file at storePath.
func New(inv Invalidator, storePath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		inv:       inv,
		storePath: storePath,
		watcher:   fsWatcher,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The store's directory is watched rather than the
// file itself so WAL side files and atomic replaces are seen too.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.entities = w.inv.Resolved()
	if err := w.watcher.Add(filepath.Dir(w.storePath)); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("path", w.storePath).Msg("Store watcher started")
	return nil
}

// Stop stops the watcher and cancels any pending notification.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
	log.Info().Msg("Store watcher stopped")
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isStoreFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Store watcher error")
		}
	}
}

// isStoreFile matches the store file and its engine side files, nothing
// else in the watched directory.
func (w *Watcher) isStoreFile(name string) bool {
	switch filepath.Clean(name) {
	case w.storePath, w.storePath + "-wal", w.storePath + "-shm", w.storePath + "-journal":
		return true
	}
	return false
}

func (w *Watcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Reset(DebounceWindow)
		return
	}
	w.timer = time.AfterFunc(DebounceWindow, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	if len(w.entities) == 0 {
		return
	}
	log.Debug().Strs("entities", w.entities).Msg("Store file changed externally, invalidating")
	w.inv.NotifyInvalidated(w.entities...)
}
