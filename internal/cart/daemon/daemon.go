// Package daemon watches an inbox directory and adds the items of every
// batch file dropped there to the named group.
//
// The daemon:
// 1. Processes batch files already in the inbox
// 2. Watches the inbox for new or rewritten files
// 3. Debounces events so partially written files are not read
// 4. Removes each file once its items were added
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/classify"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RejectedSuffix is appended to batch files that cannot be parsed, so they
// are kept for inspection but not retried.
const RejectedSuffix = ".rejected"

// Adder creates items. Both the local store and the HTTP client satisfy it.
type Adder interface {
	AddItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error)
}

// Result reports what processing one batch file did.
type Result struct {
	Path    string
	GroupID string
	Added   int
	Failed  int
	Err     error
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is read
	DebounceInterval time.Duration

	// RetryInterval is how long a partly failed batch waits before the
	// remaining items are tried again
	RetryInterval time.Duration

	// Classifier fills in missing icons and categories
	Classifier classify.Classifier

	// OnResult is called after each batch file is handled
	OnResult func(Result)

	// Logger for daemon activity
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		RetryInterval:    5 * time.Second,
		Classifier:       classify.Default,
		Logger:           zap.NewNop(),
	}
}

// Daemon adds inbox batches to the store.
type Daemon struct {
	store  Adder
	dir    string
	config *Config
	logger *zap.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	held          map[string]time.Time // path -> earliest retry
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a daemon for the inbox dir, which is created if missing.
func New(store Adder, dir string, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConfig().RetryInterval
	}
	if config.Classifier == nil {
		config.Classifier = classify.Default
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve inbox dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create inbox dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       store,
		dir:         absDir,
		config:      config,
		logger:      config.Logger.Named("daemon"),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		held:        make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Dir returns the watched directory.
func (d *Daemon) Dir() string {
	return d.dir
}

// Start processes the files already in the inbox, then watches for new
// ones. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting", zap.String("inbox", d.dir))

	if err := d.watcher.Add(d.dir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	// Files written before the watch was added
	if _, err := d.ProcessAll(ctx); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.once.Do(func() {
		d.logger.Info("stopping")
		d.cancel()
		if cerr := d.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		d.wg.Wait()
		d.logger.Info("stopped")
	})
	return err
}

// ProcessAll handles every batch file currently in the inbox, oldest name
// first.
func (d *Daemon) ProcessAll(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsBatchFile(e.Name()) {
			paths = append(paths, filepath.Join(d.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		results = append(results, d.ProcessFile(ctx, p))
	}
	return results, nil
}

// ProcessFile adds the items of one batch file and removes it. A file that
// cannot be parsed is renamed with RejectedSuffix. If any item fails to be
// added the file is left in place so it is retried.
func (d *Daemon) ProcessFile(ctx context.Context, path string) Result {
	res := Result{Path: path}
	defer func() {
		if d.config.OnResult != nil {
			d.config.OnResult(res)
		}
	}()

	batch, err := ReadBatch(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.Err = err
			return res
		}
		d.logger.Warn("rejecting batch", zap.String("file", filepath.Base(path)), zap.Error(err))
		if rerr := os.Rename(path, path+RejectedSuffix); rerr != nil {
			d.logger.Warn("failed to set batch aside", zap.Error(rerr))
		}
		res.Err = err
		return res
	}
	res.GroupID = batch.GroupID

	var remaining []BatchItem
	for _, it := range batch.Items {
		name := strings.TrimSpace(it.Name)
		if err := schema.ValidateName(name); err != nil {
			d.logger.Warn("skipping item", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		icon, category := it.Icon, it.Category
		if icon == "" {
			icon = d.config.Classifier.Icon(name)
		}
		if category == "" {
			category = d.config.Classifier.Category(name)
		}

		if _, err := d.store.AddItem(ctx, batch.GroupID, name, icon, category); err != nil {
			d.logger.Warn("failed to add item",
				zap.String("group", batch.GroupID),
				zap.String("name", name),
				zap.Error(err))
			res.Failed++
			res.Err = err
			remaining = append(remaining, it)
			continue
		}
		res.Added++
	}

	if res.Failed > 0 {
		// Keep only what still needs adding.
		batch.Items = remaining
		d.hold(path)
		if err := writeBatch(path, batch); err != nil {
			d.logger.Warn("failed to rewrite batch", zap.Error(err))
		}
	} else if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove batch", zap.Error(err))
	}

	d.logger.Info("batch processed",
		zap.String("file", filepath.Base(path)),
		zap.String("group", batch.GroupID),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed))
	return res
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !IsBatchFile(event.Name) {
				continue
			}
			d.logger.Debug("file event", zap.String("op", event.Op.String()), zap.String("file", event.Name))
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// queueChange records an event for path, restarting its debounce window.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// hold delays the next attempt at path by the retry interval. The rewrite
// that follows would otherwise trigger an immediate retry.
func (d *Daemon) hold(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.held[path] = time.Now().Add(d.config.RetryInterval)
	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, path := range d.readyChanges() {
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					continue
				}
				d.ProcessFile(d.ctx, path)
			}
		}
	}
}

// readyChanges dequeues the paths that have been quiet for long enough.
func (d *Daemon) readyChanges() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		if until, ok := d.held[path]; ok {
			if now.Before(until) {
				continue
			}
			delete(d.held, path)
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}
