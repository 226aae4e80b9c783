// Package watch re-runs a callback when files under a set of roots change.
// Events are debounced so that a burst of writes (an agent appending to a
// transcript) triggers a single run, and runs never overlap.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 2 * time.Second

// Watcher watches directory trees recursively.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *log.Logger
	ignore   []string
}

type Options struct {
	Debounce time.Duration
	Logger   *log.Logger
	// Ignore lists directory trees whose events are dropped, typically the
	// output root so that exported files do not retrigger a pass.
	Ignore []string
}

func New(roots []string, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{watcher: fw, debounce: opts.Debounce, logger: opts.Logger}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	for _, dir := range opts.Ignore {
		if dir != "" {
			w.ignore = append(w.ignore, filepath.Clean(dir))
		}
	}

	watched := 0
	for _, root := range roots {
		n, err := w.addTree(root)
		if err != nil {
			w.logger.Printf("skip %s: %v", root, err)
		}
		watched += n
	}
	if watched == 0 {
		_ = fw.Close()
		return nil, fmt.Errorf("no watchable directories among %s", strings.Join(roots, ", "))
	}
	return w, nil
}

func (w *Watcher) ignored(path string) bool {
	for _, dir := range w.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory")
	}
	count := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.ignored(filepath.Clean(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Printf("watch %s: %v", path, err)
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// Run calls fn once per quiet period after changes until ctx is done. fn
// runs on the caller's goroutine, so passes are strictly sequential.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context)) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.ignored(filepath.Clean(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_, _ = w.addTree(event.Name)
				}
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			fn(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}

// Close releases the underlying watcher without running.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
