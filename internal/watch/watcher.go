// Package watch re-triggers a replay when recordings or service config files
// change on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/lockstep/pkg/log"
)

// DefaultDebounce is the quiet period after the last change before firing.
const DefaultDebounce = 100 * time.Millisecond

// Config holds watcher options.
type Config struct {
	// Files are the watched files. Their parent directories are watched so
	// editors that replace files atomically still trigger.
	Files []string

	// Debounce is the quiet period after a change.
	// Default: 100 milliseconds
	Debounce time.Duration

	// Clock drives the debounce timer.
	// Default: the wall clock
	Clock clock.Clock

	Logger log.Logger
}

// Watcher calls a function whenever one of the watched files changes.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	debounce time.Duration
	clock    clock.Clock
	logger   log.Logger

	mu      sync.Mutex
	timer   *clock.Timer
	pending map[string]bool
	wg      sync.WaitGroup
}

// New creates a watcher for cfg.Files.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("watch: no files")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	w := &Watcher{
		files:    make(map[string]bool, len(cfg.Files)),
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		logger:   log.OrNoop(cfg.Logger),
		pending:  make(map[string]bool),
	}

	dirs := make(map[string]bool)
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("watch: %s: %w", f, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		w.dirs = append(w.dirs, d)
	}
	sort.Strings(w.dirs)

	return w, nil
}

// Run blocks until ctx is canceled, calling onChange with the sorted set of
// changed files after each debounced burst. Calls never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fw.Close()

	for _, d := range w.dirs {
		if err := fw.Add(d); err != nil {
			return fmt.Errorf("watch: %s: %w", d, err)
		}
	}

	fire := make(chan struct{}, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				if changed := w.takePending(); len(changed) > 0 {
					onChange(ctx, changed)
				}
			}
		}
	}()
	defer w.wg.Wait()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.files[event.Name] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("watched file changed", log.String("file", event.Name), log.String("op", event.Op.String()))
			w.schedule(event.Name, fire)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) schedule(name string, fire chan<- struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[name] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) takePending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.pending))
	for f := range w.pending {
		out = append(out, f)
	}
	sort.Strings(out)
	w.pending = make(map[string]bool)
	return out
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
