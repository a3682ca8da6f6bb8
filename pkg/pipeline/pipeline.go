// Package pipeline wires the tasks, the output sync policy and the watchers
// into the build, watch and serve modes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/graph"
	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/outsync"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/ritzau/assetpipe/pkg/tasks"
	"golang.org/x/sync/errgroup"
)

// ResultFunc observes every finished task run
type ResultFunc func(*tasks.Result)

// Pipeline owns the path table and one instance of every task
type Pipeline struct {
	cfg      *config.Config
	table    *paths.Table
	graph    *graph.IncludeGraph
	tasks    map[string]tasks.Task
	html     *tasks.HTML
	policies map[model.Category]*outsync.Policy

	mu       sync.Mutex
	onResult []ResultFunc
}

// Option customises a pipeline
type Option func(*options)

type options struct {
	compiler tasks.StyleCompiler
}

// WithStyleCompiler replaces the sass CLI
func WithStyleCompiler(c tasks.StyleCompiler) Option {
	return func(o *options) {
		o.compiler = c
	}
}

// New builds the pipeline described by cfg
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	specs, err := cfg.PathSpecs()
	if err != nil {
		return nil, err
	}
	table, err := paths.NewTable(cfg.Root, specs)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		table:    table,
		graph:    graph.NewIncludeGraph(),
		tasks:    make(map[string]tasks.Task),
		policies: make(map[model.Category]*outsync.Policy),
	}

	styles, err := tasks.NewStyles(table, cfg.Styles, o.compiler)
	if err != nil {
		return nil, err
	}
	html, err := tasks.NewHTML(table, cfg.HTML, p.graph)
	if err != nil {
		return nil, err
	}
	p.html = html

	for _, t := range []tasks.Task{
		styles,
		tasks.NewScripts(table, cfg.Scripts),
		tasks.NewImages(table, cfg.Images),
		tasks.NewWebP(table, cfg.Images),
		html,
	} {
		if _, ok := table.Entry(model.Category(t.Name())); ok {
			p.tasks[t.Name()] = t
		}
	}

	syncCategories, err := cfg.SyncCategories()
	if err != nil {
		return nil, err
	}
	for _, c := range syncCategories {
		policy, err := outsync.NewPolicy(table, c)
		if err != nil {
			return nil, err
		}
		p.policies[c] = policy
	}

	return p, nil
}

// Table returns the path table
func (p *Pipeline) Table() *paths.Table {
	return p.table
}

// Task looks up a task by name
func (p *Pipeline) Task(name string) (tasks.Task, bool) {
	t, ok := p.tasks[name]
	return t, ok
}

// OnResult registers an observer for task results
func (p *Pipeline) OnResult(fn ResultFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = append(p.onResult, fn)
}

func (p *Pipeline) publish(r *tasks.Result) {
	p.mu.Lock()
	observers := append([]ResultFunc(nil), p.onResult...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(r)
	}
}

// runTask runs one task and reports its result
func (p *Pipeline) runTask(ctx context.Context, t tasks.Task) (*tasks.Result, error) {
	logging.ForCategory(t.Name()).Debug("task started")
	result, err := t.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	p.publish(result)
	return result, nil
}

// Report collects the results of a build
type Report struct {
	Results  []*tasks.Result
	Duration time.Duration
}

// Failed reports whether any file failed
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return true
		}
	}
	return false
}

// Err joins every per-file failure
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if err := res.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Task, err))
		}
	}
	return errors.Join(errs...)
}

// Run executes the named tasks one after another
func (p *Pipeline) Run(ctx context.Context, names ...string) (*Report, error) {
	start := time.Now()
	report := &Report{}
	for _, name := range names {
		t, ok := p.tasks[name]
		if !ok {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		result, err := p.runTask(ctx, t)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, result)
	}
	report.Duration = time.Since(start)
	return report, nil
}

// Build runs every task in parallel
func (p *Pipeline) Build(ctx context.Context) (*Report, error) {
	start := time.Now()

	var names []string
	for _, name := range tasks.Names() {
		if _, ok := p.tasks[name]; ok {
			names = append(names, name)
		}
	}

	results := make([]*tasks.Result, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			result, err := p.runTask(ctx, p.tasks[name])
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Results: results, Duration: time.Since(start)}
	logging.Info("build finished", "tasks", len(results), "durationMs", report.Duration.Milliseconds())
	return report, nil
}
