// Package daemon keeps a synchronizer current with a working tree.
//
// The daemon:
//  1. Submits every accepted file under the root as an initial cycle
//  2. Watches the tree for file changes
//  3. Batches changes with debouncing and submits one cycle per batch
//  4. Publishes each cycle's report
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/sync"
)

// Publisher receives the outcome of every cycle the daemon runs.
type Publisher interface {
	PublishReport(report *sync.Report)
	PublishError(revision string, err error)
}

// Publishers fans every cycle out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishReport(report *sync.Report) {
	for _, p := range ps {
		p.PublishReport(report)
	}
}

func (ps Publishers) PublishError(revision string, err error) {
	for _, p := range ps {
		p.PublishError(revision, err)
	}
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a path must stay quiet before it is
	// submitted. This batches rapid updates together.
	DebounceInterval time.Duration

	// Accept filters the paths the daemon submits. Nil accepts every file.
	Accept func(path string) bool

	// Publisher is notified after every cycle. May be nil.
	Publisher Publisher

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and synchronization.
type Daemon struct {
	syncer sync.Synchronizer
	root   string
	canon  string // root with symlinks resolved, the prefix of artifact IDs
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu gosync.Mutex
	cycles        int

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(s sync.Synchronizer, root string) (*Daemon, error) {
	return NewWithConfig(s, root, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(s sync.Synchronizer, root string, config *Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("synchronizer cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Accept == nil {
		config.Accept = func(string) bool { return true }
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		canon = abs
	}
	watcher, err := NewFileWatcher(config.Accept)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:      s,
		root:        abs,
		canon:       canon,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start performs the initial sync, then watches and syncs until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(d.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.root, err)
	}
	if err := d.PerformFullSync(ctx); err != nil {
		_ = d.watcher.Stop()
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.root)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It waits for a running cycle to
// finish.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// PerformFullSync submits every accepted file under the root as added.
// Start calls it once the watcher is up, so no write is missed between the
// walk and the first event.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	d.config.Logger.Println("Performing full sync")

	set, err := Scan(d.root, d.config.Accept)
	if err != nil {
		return err
	}

	d.config.Logger.Printf("Syncing %d files", len(set))
	if _, err := d.submit(ctx, set); err != nil {
		if !sync.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		for _, rec := range set {
			d.queueChange(rec.Path)
		}
	}
	d.config.Logger.Println("Full sync complete")
	return nil
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// Scan walks root and returns an Added record for every file accepted by
// accept. Hidden directories are skipped.
func Scan(root string, accept func(path string) bool) (change.Set, error) {
	var set change.Set
	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if path != root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if accept == nil || accept(path) {
			set = append(set, change.Add(path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return set, nil
}

// queueChange adds a path to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges submits the paths that have been quiet for the
// debounce interval as one cycle. Paths of a retryable failure are queued
// again.
func (d *Daemon) processPendingChanges() {
	ready := d.takeReady(time.Now())
	if len(ready) == 0 {
		return
	}

	set := d.classify(ready)
	if set.Empty() {
		return
	}
	_, err := d.submit(d.ctx, set)
	if err != nil && sync.IsRetryable(err) && d.ctx.Err() == nil {
		for _, path := range ready {
			d.queueChange(path)
		}
	}
}

func (d *Daemon) takeReady(now time.Time) []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

// classify turns quiet paths into change records: a present path is
// modified when the synchronizer knows it and added otherwise; a missing
// path is removed. A missing path the synchronizer does not know may be a
// directory that was deleted or moved away, so every known artifact below
// it is removed too.
func (d *Daemon) classify(paths []string) change.Set {
	var set change.Set
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				set = append(set, change.Remove(path))
				if !d.syncer.Known(path) {
					for _, a := range d.knownUnder(path) {
						set = append(set, change.Remove(a))
					}
				}
			} else {
				d.config.Logger.Printf("WARNING: skipping %s: %v", path, err)
			}
			continue
		}
		if d.syncer.Known(path) {
			set = append(set, change.Modify(path))
		} else {
			set = append(set, change.Add(path))
		}
	}
	return set
}

// knownUnder returns the artifacts owning units or pending below dir.
func (d *Daemon) knownUnder(dir string) []string {
	rel, err := filepath.Rel(d.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	prefix := filepath.Join(d.canon, rel) + string(filepath.Separator)

	var paths []string
	for _, a := range append(d.syncer.Snapshot().Artifacts(), d.syncer.Pending()...) {
		if strings.HasPrefix(string(a), prefix) {
			paths = append(paths, string(a))
		}
	}
	sort.Strings(paths)
	return paths
}

// submit runs one cycle under a fresh revision label.
func (d *Daemon) submit(ctx context.Context, set change.Set) (*sync.Report, error) {
	d.cycles++
	revision := fmt.Sprintf("watch-%d", d.cycles)

	report, err := d.syncer.Update(ctx, revision, set)
	if err != nil {
		d.config.Logger.Printf("Error syncing %s: %v", revision, err)
		if d.config.Publisher != nil {
			d.config.Publisher.PublishError(revision, err)
		}
		return nil, err
	}
	d.config.Logger.Println(report.Summary())
	if d.config.Publisher != nil {
		d.config.Publisher.PublishReport(report)
	}
	return report, nil
}
