package sqlite

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to a database file made by any process. Bursts
// of filesystem events are coalesced into a single pending notification.
type Watcher struct {
	fs      *fsnotify.Watcher
	names   map[string]bool
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	once    sync.Once
}

// NewWatcher watches the database at path together with its journal files.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: SQLite replaces journal files, which drops
	// watches placed on the files themselves.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	base := filepath.Base(abs)
	w := &Watcher{
		fs: fsw,
		names: map[string]bool{
			base:              true,
			base + "-wal":     true,
			base + "-journal": true,
		},
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Changes delivers one value per burst of writes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.names[filepath.Base(ev.Name)] {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("database watcher error", "error", err)
		}
	}
}
