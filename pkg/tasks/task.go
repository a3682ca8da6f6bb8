// Package tasks implements the per-category transformations. Each task reads
// every source file selected by its category glob and writes the results
// under the category's destination root.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Task is one build step of the pipeline
type Task interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// FileError is a failure to process a single source file
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Result summarises one task run
type Result struct {
	Task     string
	Inputs   int
	Outputs  []string
	Failures []FileError
	Duration time.Duration
}

// Err joins all per-file failures, or returns nil
func (r *Result) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// OK reports whether every file was processed
func (r *Result) OK() bool {
	return r != nil && len(r.Failures) == 0
}

// collector gathers outputs and failures from concurrent workers
type collector struct {
	mu     sync.Mutex
	result *Result
	log    *slog.Logger
}

func newCollector(name string, inputs int) *collector {
	return &collector{
		result: &Result{Task: name, Inputs: inputs},
		log:    logging.ForCategory(name),
	}
}

func (c *collector) output(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Outputs = append(c.result.Outputs, paths...)
}

func (c *collector) fail(path string, err error) {
	c.log.Error("failed to process file", "path", path, "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Failures = append(c.result.Failures, FileError{Path: path, Err: err})
}

func (c *collector) finish(start time.Time) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.Strings(c.result.Outputs)
	sort.Slice(c.result.Failures, func(i, j int) bool {
		return c.result.Failures[i].Path < c.result.Failures[j].Path
	})
	c.result.Duration = time.Since(start)
	c.log.Info("task finished",
		"inputs", c.result.Inputs,
		"outputs", len(c.result.Outputs),
		"failures", len(c.result.Failures),
		"durationMs", c.result.Duration.Milliseconds())
	return c.result
}

// forEachFile runs fn over files with bounded parallelism. A failing file is
// recorded and the rest continue; only cancellation aborts the run.
func forEachFile(ctx context.Context, c *collector, files []string, fn func(ctx context.Context, file string) ([]string, error)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outputs, err := fn(ctx, file)
			if err != nil {
				c.fail(file, err)
				return nil
			}
			c.output(outputs...)
			return nil
		})
	}
	return g.Wait()
}

// writeFile writes data through a temp file in the target directory, so
// watchers on the output tree never observe a partial file
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Names lists the runnable task names in build order
func Names() []string {
	return []string{
		string(model.CategoryStyles),
		string(model.CategoryScripts),
		string(model.CategoryImages),
		string(model.CategoryWebP),
		string(model.CategoryHTML),
	}
}
