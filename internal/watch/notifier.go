// Package watch emits a debounced signal when the configuration file
// changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Notifier watches one configuration file and coalesces a burst of writes
// into a single "changed" event. Editors and config management tools
// rarely write a file once; the debounce window keeps the supervisor from
// rebuilding mid-write.
type Notifier struct {
	path     string
	debounce time.Duration
	events   chan struct{}

	mu    sync.Mutex
	timer *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Notifier for path. A zero debounce picks the default.
func New(path string, debounce time.Duration) *Notifier {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Notifier{
		path:     filepath.Clean(path),
		debounce: debounce,
		events:   make(chan struct{}, 1),
	}
}

// Events returns the change channel. At most one event is buffered;
// consumers that are mid-rebuild see a burst as a single signal.
func (n *Notifier) Events() <-chan struct{} { return n.events }

// Start begins watching in a background goroutine. The parent directory
// is watched rather than the file itself so atomic replace-by-rename
// (the common editor and configmap update pattern) is still observed.
func (n *Notifier) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(n.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})

	go func() {
		defer close(n.done)
		defer watcher.Close()
		n.run(ctx, watcher)
	}()
	return nil
}

// Stop cancels the watcher and waits for it to exit.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.mu.Unlock()
}

func (n *Notifier) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != n.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			n.bump()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "path", n.path, "err", err)
		}
	}
}

// bump resets the stability window; the signal fires only once the file
// has been quiet for the full debounce interval.
func (n *Notifier) bump() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.debounce, func() {
		select {
		case n.events <- struct{}{}:
		default:
		}
	})
}
