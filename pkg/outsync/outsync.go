// Package outsync removes stale outputs when their source is deleted.
//
// Every synced category has a rule listing the outputs one source produces.
// A deletion event under the category's source root derives those outputs by
// root substitution and removes them. Removing an output that is already gone
// counts as success, so applying the same event twice is harmless.
//
// A deleted source directory, which the watcher reports as a single event when
// it is moved away, maps to its derived output directory. That directory is
// removed with everything below it.
package outsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"golang.org/x/sync/errgroup"
)

// ErrNotDeletion is returned when the policy is applied to a non-deletion event
var ErrNotDeletion = errors.New("change event is not a deletion")

// Rule maps the primary derived output path to every output it stands for
type Rule func(primary string) []string

// Rules returns the output rule of each category that supports syncing
func Rules() map[model.Category]Rule {
	return map[model.Category]Rule{
		model.CategoryImages: func(primary string) []string {
			return []string{primary, paths.WebPName(primary)}
		},
		model.CategoryStyles: func(primary string) []string {
			return []string{paths.ReplaceExt(primary, ".css"), paths.ReplaceExt(primary, ".min.css")}
		},
		model.CategoryHTML: func(primary string) []string {
			return []string{primary}
		},
	}
}

// Result lists what happened to each derived output
type Result struct {
	Source  string
	Removed []string
	Missing []string
	Failed  map[string]error
}

// Err joins the removal failures, or returns nil
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("remove %s: %w", k, r.Failed[k]))
	}
	return errors.Join(errs...)
}

// Policy applies the rules of one category against a path table
type Policy struct {
	table    *paths.Table
	category model.Category
	rule     Rule
	log      *slog.Logger
}

// NewPolicy creates the sync policy for a category
func NewPolicy(table *paths.Table, category model.Category) (*Policy, error) {
	rule, ok := Rules()[category]
	if !ok {
		return nil, fmt.Errorf("category %q does not support output sync", category)
	}
	if _, ok := table.Entry(category); !ok {
		return nil, fmt.Errorf("category %q has no path entry", category)
	}
	return &Policy{
		table:    table,
		category: category,
		rule:     rule,
		log:      logging.ForCategory("sync"),
	}, nil
}

// Category returns the category the policy is bound to
func (p *Policy) Category() model.Category {
	return p.category
}

// Targets derives the outputs a deleted source corresponds to. Each path
// appears once, even when the rule maps a source onto itself (x.webp).
func (p *Policy) Targets(source string) ([]string, error) {
	primary, err := p.table.Derive(p.category, source)
	if err != nil {
		return nil, err
	}
	return unique(p.rule(primary)), nil
}

// targets is Targets, except that a primary output that is a directory stands
// for the whole subtree
func (p *Policy) targets(source string) (list []string, tree bool, err error) {
	primary, err := p.table.Derive(p.category, source)
	if err != nil {
		return nil, false, err
	}
	if info, err := os.Lstat(primary); err == nil && info.IsDir() {
		return []string{primary}, true, nil
	}
	return unique(p.rule(primary)), false, nil
}

func unique(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Apply removes the outputs derived from a deleted source. The removals run
// concurrently. A failed removal is logged and reported through the result;
// the returned error is only set when nothing could be attempted.
func (p *Policy) Apply(ctx context.Context, ev model.ChangeEvent) (*Result, error) {
	if ev.Kind != model.ChangeDeleted {
		return nil, fmt.Errorf("%s (%s): %w", ev.Path, ev.Kind, ErrNotDeletion)
	}

	targets, tree, err := p.targets(ev.Path)
	if err != nil {
		return nil, err
	}

	remove := os.Remove
	if tree {
		remove = os.RemoveAll
	}

	p.log.Info("source deleted", "path", ev.Path, "directory", tree)

	result := &Result{Source: ev.Path, Failed: make(map[string]error)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := remove(target)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Removed = append(result.Removed, target)
				p.log.Info("removed output", "path", target)
			case errors.Is(err, fs.ErrNotExist):
				result.Missing = append(result.Missing, target)
				p.log.Debug("output already gone", "path", target)
			default:
				result.Failed[target] = err
				p.log.Warn("failed to remove output", "path", target, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	sort.Strings(result.Removed)
	sort.Strings(result.Missing)
	return result, nil
}
