package origins

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a PatternList in sync with a patterns file on disk. The
// file holds one pattern per line; blank lines and lines starting with "#"
// are ignored. The pattern set is swapped atomically on every change, so a
// Matches call always sees a complete list (old or new, never a mix).
//
// Watcher implements Matcher and can be handed directly to the channel
// adapter.
type Watcher struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	list *PatternList

	fw     *fsnotify.Watcher
	doneCh chan struct{}
}

var _ Matcher = (*Watcher)(nil)

// WatchFile loads the patterns file at path and starts watching it for
// changes. The watch is released via Close.
func WatchFile(path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}

	list, err := loadPatternFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("origins watcher: %w", err)
	}
	// Watch the directory instead of the file so atomic replace-by-rename
	// (the common editor and config-management write path) is observed.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("origins watcher: %w", err)
	}

	w := &Watcher{
		path:   path,
		log:    log,
		list:   list,
		fw:     fw,
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Matches implements Matcher against the most recently loaded pattern set.
func (w *Watcher) Matches(origin string) bool {
	w.mu.RLock()
	list := w.list
	w.mu.RUnlock()
	return list.Matches(origin)
}

// Patterns returns the current pattern set.
func (w *Watcher) Patterns() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.list.Patterns()
}

// Close stops watching. It is safe to keep calling Matches afterwards; the
// last loaded pattern set remains in effect.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Debug("origins watch error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	list, err := loadPatternFile(w.path)
	if err != nil {
		// Keep the previous set on a failed reload.
		w.log.Debug("origins reload failed",
			slog.String("path", w.path),
			slog.String("err", err.Error()))
		return
	}
	w.mu.Lock()
	w.list = list
	w.mu.Unlock()
	w.log.Debug("origins reloaded",
		slog.String("path", w.path),
		slog.Int("patterns", len(list.Patterns())))
}

func loadPatternFile(path string) (*PatternList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("origins file: %w", err)
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("origins file: %w", err)
	}
	return NewPatternList(patterns...), nil
}
