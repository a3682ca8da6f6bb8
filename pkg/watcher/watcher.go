package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
)

// FileWatcher watches a directory tree and reports file changes
type FileWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	ignore  []string // absolute directories that are never watched
	events  chan model.ChangeEvent
	done    chan struct{}
}

// NewFileWatcher creates a recursive watcher for root. Directories listed in
// ignore, and everything below them, are skipped.
func NewFileWatcher(root string, ignore ...string) (*FileWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	var absIgnore []string
	for _, dir := range ignore {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		absIgnore = append(absIgnore, abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		root:    absRoot,
		ignore:  absIgnore,
		events:  make(chan model.ChangeEvent, 256),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory
func (fw *FileWatcher) Root() string {
	return fw.root
}

// Start adds every directory under the root and begins emitting events.
// The events channel is closed once ctx is cancelled.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.addRecursive(fw.root, nil); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", fw.root, err)
	}

	logging.Info("started watching", "path", fw.root, "directories", len(fw.watcher.WatchList()))

	go fw.processEvents(ctx)
	return nil
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan model.ChangeEvent {
	return fw.events
}

// Done is closed after the watcher has shut down
func (fw *FileWatcher) Done() <-chan struct{} {
	return fw.done
}

// addRecursive watches dir and its subdirectories. Files found on the way are
// passed to found, which lets a directory moved into the tree report its
// contents.
func (fw *FileWatcher) addRecursive(dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			if found != nil && isRelevantName(d.Name()) {
				found(path)
			}
			return nil
		}

		// Skip hidden directories (e.g., .git, .sass-cache)
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if fw.ignored(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

func (fw *FileWatcher) ignored(path string) bool {
	for _, dir := range fw.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// processEvents converts fsnotify events into change events
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.done)
	defer close(fw.events)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !isRelevant(event) || fw.ignored(event.Name) {
				continue
			}

			kind := kindOf(event)
			if kind == model.ChangeCreated {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Watch the new directory too, and report what it already holds
					err := fw.addRecursive(event.Name, func(path string) {
						fw.emit(ctx, model.ChangeCreated, path)
					})
					if err != nil {
						logging.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			logging.Trace("file changed", "path", event.Name, "kind", kind.String())
			fw.emit(ctx, kind, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) emit(ctx context.Context, kind model.ChangeKind, path string) {
	ev := model.ChangeEvent{Kind: kind, Path: path, Timestamp: time.Now()}
	select {
	case fw.events <- ev:
	case <-ctx.Done():
	}
}

// kindOf maps fsnotify operations onto change kinds. Renames report the old
// name, so the path is gone just like after a remove.
func kindOf(event fsnotify.Event) model.ChangeKind {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return model.ChangeDeleted
	case event.Has(fsnotify.Create):
		return model.ChangeCreated
	default:
		return model.ChangeModified
	}
}

// isRelevant filters out chmod-only events and editor temp files
func isRelevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return isRelevantName(filepath.Base(event.Name))
}

func isRelevantName(name string) bool {
	// Ignore editor temporary files and hidden files
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp") ||
		strings.HasPrefix(name, "#") {
		return false
	}
	return true
}
