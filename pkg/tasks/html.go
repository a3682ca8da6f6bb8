package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/cycles"
	"github.com/ritzau/assetpipe/pkg/finder"
	"github.com/ritzau/assetpipe/pkg/graph"
	"github.com/ritzau/assetpipe/pkg/include"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/tdewolff/minify/v2"
)

// HTML expands include directives in every page and writes the result
type HTML struct {
	table    *paths.Table
	expander *include.Expander
	graph    *graph.IncludeGraph
	minifier *minify.M // nil unless minification is enabled

	// Serializes runs; the html and components watchers both trigger it
	mu sync.Mutex
}

// NewHTML creates the html task. The include graph is filled as pages are
// expanded and may be shared with the watch coordinator.
func NewHTML(table *paths.Table, cfg config.HTMLConfig, g *graph.IncludeGraph) (*HTML, error) {
	if g == nil {
		g = graph.NewIncludeGraph()
	}

	expander, err := include.NewExpander(table.Abs(cfg.Base), cfg.Prefix, g)
	if err != nil {
		return nil, err
	}

	h := &HTML{
		table:    table,
		expander: expander,
		graph:    g,
	}
	if cfg.Minify {
		h.minifier = newMinifier()
	}
	return h, nil
}

func (h *HTML) Name() string {
	return string(model.CategoryHTML)
}

// Graph returns the include graph the task records into
func (h *HTML) Graph() *graph.IncludeGraph {
	return h.graph
}

// Pages returns every page selected by the html glob
func (h *HTML) Pages() ([]string, error) {
	pages, err := finder.FindFiles(h.table, model.CategoryHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to find pages: %w", err)
	}
	return pages, nil
}

func (h *HTML) Run(ctx context.Context) (*Result, error) {
	pages, err := h.Pages()
	if err != nil {
		return nil, err
	}
	return h.RunPages(ctx, pages)
}

// RunPages rebuilds only the given pages
func (h *HTML) RunPages(ctx context.Context, pages []string) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	c := newCollector(h.Name(), len(pages))

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := h.render(page)
		if err != nil {
			c.fail(page, err)
			continue
		}
		c.output(out)
	}

	result := c.finish(start)
	if hasCycle(result) {
		for _, cycle := range cycles.FindIncludeCycles(h.graph) {
			c.log.Warn("include cycle", "files", cycle.String())
		}
	}
	return result, nil
}

func (h *HTML) render(page string) (string, error) {
	dest, err := h.table.Derive(model.CategoryHTML, page)
	if err != nil {
		return "", err
	}

	data, err := h.expander.ExpandFile(page)
	if err != nil {
		return "", err
	}

	if h.minifier != nil {
		data, err = h.minifier.Bytes(mimeHTML, data)
		if err != nil {
			return "", fmt.Errorf("failed to minify: %w", err)
		}
	}

	if err := writeFile(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// AffectedPages returns the pages that must be rebuilt after the given
// fragments changed. A fragment the graph has never seen, e.g. before the
// first build, makes every page affected.
func (h *HTML) AffectedPages(changed []string) ([]string, error) {
	pages, err := h.Pages()
	if err != nil {
		return nil, err
	}

	isPage := make(map[string]bool, len(pages))
	for _, p := range pages {
		isPage[p] = true
	}

	affected := make(map[string]bool)
	for _, fragment := range changed {
		if !h.graph.Has(fragment) {
			return pages, nil
		}
		for _, dep := range h.graph.Dependents(fragment) {
			if isPage[dep] {
				affected[dep] = true
			}
		}
	}

	out := make([]string, 0, len(affected))
	for p := range affected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func hasCycle(r *Result) bool {
	for _, f := range r.Failures {
		if errors.Is(f.Err, include.ErrCycle) {
			return true
		}
	}
	return false
}
