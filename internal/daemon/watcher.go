package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a file system event for an accepted artifact file, or an
// OpDelete for a watched directory that was removed or renamed away.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	Op   EventOp
	// Dir is set when Path was a watched directory.
	Dir bool
}

// FileWatcher watches a directory tree for artifact changes. New
// subdirectories are watched as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	accept  func(path string) bool
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string

	dirsMu sync.Mutex
	dirs   map[string]struct{}
}

// NewFileWatcher creates a watcher reporting files accepted by accept. A
// nil accept reports every regular file. The watcher must be started with
// Start before it emits events.
func NewFileWatcher(accept func(path string) bool) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if accept == nil {
		accept = func(string) bool { return true }
	}

	return &FileWatcher{
		watcher: watcher,
		accept:  accept,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirs:    make(map[string]struct{}),
	}, nil
}

// Start watches root and every directory below it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := fw.addTree(abs); err != nil {
		return err
	}
	fw.root = abs

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addTree adds a watch on dir and its subdirectories, skipping hidden
// directories such as .git and .jj.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		fw.dirsMu.Lock()
		fw.dirs[path] = struct{}{}
		fw.dirsMu.Unlock()
		return nil
	})
}

// forgetTree drops dir and every watched directory below it. It reports
// whether dir itself was watched.
func (fw *FileWatcher) forgetTree(dir string) bool {
	fw.dirsMu.Lock()
	defer fw.dirsMu.Unlock()

	_, watched := fw.dirs[dir]
	prefix := dir + string(filepath.Separator)
	for path := range fw.dirs {
		if path != dir && !strings.HasPrefix(path, prefix) {
			continue
		}
		delete(fw.dirs, path)
		// The kernel drops watches of deleted directories; a renamed one
		// keeps its watch under the old name.
		_ = fw.watcher.Remove(path)
	}
	return watched
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)
	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, fe := range fw.convertEvent(event) {
				select {
				case fw.events <- fe:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to zero or more FileEvents. A new
// directory is watched and its existing files are reported as created,
// since they may have been written before the watch was added.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) []FileEvent {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				return nil
			}
			return fw.watchNewDir(event.Name)
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if fw.forgetTree(event.Name) {
			return []FileEvent{{Path: event.Name, Op: OpDelete, Dir: true}}
		}
	}

	if !fw.accept(event.Name) {
		return nil
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The new name of a rename arrives as its own create.
		op = OpDelete
	default:
		return nil
	}
	return []FileEvent{{Path: event.Name, Op: op}}
}

func (fw *FileWatcher) watchNewDir(dir string) []FileEvent {
	if err := fw.addTree(dir); err != nil {
		select {
		case fw.errors <- err:
		default:
		}
	}
	var created []FileEvent
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if fw.accept(path) {
			created = append(created, FileEvent{Path: path, Op: OpCreate})
		}
		return nil
	})
	return created
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
