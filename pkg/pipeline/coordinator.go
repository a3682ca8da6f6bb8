package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/watcher"
)

// Route is what a batch of changes in one category triggers
type Route struct {
	Tasks         []string // run in series
	AffectedPages bool     // rebuild only the pages including the changed fragments
}

// DispatchTable maps each watched category to its route. WebP has no route of
// its own: its sources are the images, and the images route runs it.
func DispatchTable() map[model.Category]Route {
	return map[model.Category]Route{
		model.CategoryStyles:     {Tasks: []string{"styles"}},
		model.CategoryScripts:    {Tasks: []string{"scripts"}},
		model.CategoryImages:     {Tasks: []string{"images", "webp"}},
		model.CategoryHTML:       {Tasks: []string{"html"}},
		model.CategoryComponents: {AffectedPages: true},
	}
}

// maxWaitFactor bounds how long a steady stream of changes can delay a batch
const maxWaitFactor = 10

// Watch watches the source tree and runs the routed tasks for every debounced
// batch. Each category has its own debouncer and goroutine, so a slow task
// never holds back another category. Watch returns when ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src := p.table.SourceRoot()
	var ignore []string
	if out := p.table.OutputRoot(); isStrictlyUnder(out, src) {
		ignore = append(ignore, out)
	}

	fw, err := watcher.NewFileWatcher(src, ignore...)
	if err != nil {
		return err
	}

	quiet := p.cfg.Debounce
	debouncers := make(map[model.Category]*watcher.Debouncer)
	var wg sync.WaitGroup
	for category := range DispatchTable() {
		if _, ok := p.table.Entry(category); !ok {
			continue
		}
		d := watcher.NewDebouncer(quiet, quiet*maxWaitFactor)
		d.Start(ctx)
		debouncers[category] = d

		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range d.Output() {
				if err := p.HandleBatch(ctx, category, batch); err != nil && !errors.Is(err, context.Canceled) {
					logging.ForCategory(string(category)).Error("batch failed", "error", err)
				}
			}
		}()
	}

	if err := fw.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	for ev := range fw.Events() {
		categories := p.table.Classify(ev.Path)
		if ev.Kind == model.ChangeDeleted {
			// A moved-away directory arrives as one event for the directory
			categories = p.table.ClassifyDeleted(ev.Path)
		}
		for _, category := range categories {
			if d, ok := debouncers[category]; ok {
				d.Push(ev)
			}
		}
	}

	cancel()
	wg.Wait()
	logging.Info("stopped watching", "path", src)
	return nil
}

// HandleBatch applies one debounced batch of a category: deletions go through
// the category's sync policy, then the routed tasks run.
func (p *Pipeline) HandleBatch(ctx context.Context, category model.Category, batch watcher.Batch) error {
	log := logging.ForCategory(string(category))
	log.Debug("changes", "files", len(batch.Events))

	if policy, ok := p.policies[category]; ok {
		// Children before parents, so a directory is only removed once the
		// outputs of its files are gone
		deleted := batch.Deleted()
		sort.Slice(deleted, func(i, j int) bool {
			return deleted[i].Path > deleted[j].Path
		})
		for _, ev := range deleted {
			if _, err := policy.Apply(ctx, ev); err != nil {
				log.Warn("sync failed", "path", ev.Path, "error", err)
			}
		}
	}

	route, ok := DispatchTable()[category]
	if !ok {
		return nil
	}

	if route.AffectedPages {
		return p.rebuildPages(ctx, batch.Paths())
	}

	var names []string
	for _, name := range route.Tasks {
		if _, ok := p.tasks[name]; ok {
			names = append(names, name)
		}
	}
	_, err := p.Run(ctx, names...)
	return err
}

func (p *Pipeline) rebuildPages(ctx context.Context, fragments []string) error {
	if _, ok := p.tasks[p.html.Name()]; !ok {
		return nil
	}
	pages, err := p.html.AffectedPages(fragments)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		logging.ForCategory(string(model.CategoryComponents)).Debug("no pages include the changed fragments")
		return nil
	}
	result, err := p.html.RunPages(ctx, pages)
	if err != nil {
		return err
	}
	p.publish(result)
	return nil
}

// isStrictlyUnder reports whether dir lies below root, excluding root itself
func isStrictlyUnder(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// watchOutput debounces writes under dir and hands each batch to notify
func watchOutput(ctx context.Context, dir string, quiet time.Duration, notify func(watcher.Batch)) error {
	fw, err := watcher.NewFileWatcher(dir)
	if err != nil {
		return err
	}
	d := watcher.NewDebouncer(quiet, quiet*maxWaitFactor)
	d.Start(ctx)
	if err := fw.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for batch := range d.Output() {
			notify(batch)
		}
	}()

	for ev := range fw.Events() {
		d.Push(ev)
	}
	<-done
	return nil
}
