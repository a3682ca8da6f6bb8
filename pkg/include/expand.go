package include

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ritzau/assetpipe/pkg/graph"
)

// ErrCycle is returned when a file includes itself directly or transitively
var ErrCycle = errors.New("include cycle")

// DefaultPrefix is the directive marker used when none is configured
const DefaultPrefix = "@@"

// Expander inlines included files into pages
type Expander struct {
	Base   string              // directory include paths resolve against
	Prefix string              // directive marker
	Graph  *graph.IncludeGraph // optional, receives page -> fragment edges
}

// NewExpander creates an expander rooted at base
func NewExpander(base, prefix string, g *graph.IncludeGraph) (*Expander, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve include base %s: %w", base, err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Expander{Base: abs, Prefix: prefix, Graph: g}, nil
}

// ExpandFile reads a page and returns it with every include expanded
func (e *Expander) ExpandFile(page string) ([]byte, error) {
	abs, err := filepath.Abs(page)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", page, err)
	}
	return e.expand(abs, src, nil, []string{abs})
}

// Expand expands src as if it had been read from name
func (e *Expander) Expand(name string, src []byte) ([]byte, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return nil, err
	}
	return e.expand(abs, src, nil, []string{abs})
}

func (e *Expander) expand(file string, src []byte, vars map[string]any, stack []string) ([]byte, error) {
	directives, err := Parse(src, e.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.display(file), err)
	}

	if e.Graph != nil {
		e.Graph.AddFile(file)
		e.Graph.ResetIncludes(file)
	}

	var buf bytes.Buffer
	last := 0
	for _, d := range directives {
		buf.Write(src[last:d.Start])
		last = d.End

		if d.Kind == KindVariable {
			buf.Write(substitute(src[d.Start:d.End], d.Name, vars))
			continue
		}

		target, err := e.resolve(d.Path)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", e.display(file), d.Line, err)
		}
		if e.Graph != nil {
			e.Graph.AddInclude(file, target)
		}

		for _, s := range stack {
			if s == target {
				return nil, fmt.Errorf("%s:%d: %w: %s", e.display(file), d.Line, ErrCycle, e.chain(append(stack, target)))
			}
		}

		included, err := os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: include %q: %w", e.display(file), d.Line, d.Path, err)
		}

		out, err := e.expand(target, included, mergeVars(vars, d.Context), append(stack, target))
		if err != nil {
			return nil, err
		}
		buf.Write(out)
	}
	buf.Write(src[last:])
	return buf.Bytes(), nil
}

// resolve maps an include path to an absolute file under the base directory
func (e *Expander) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: absolute include path %q", ErrMalformed, p)
	}
	target := filepath.Join(e.Base, filepath.FromSlash(p))
	rel, err := filepath.Rel(e.Base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrMalformed, p, e.Base)
	}
	return target, nil
}

func (e *Expander) display(p string) string {
	if rel, err := filepath.Rel(e.Base, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(p)
}

func (e *Expander) chain(stack []string) string {
	names := make([]string, len(stack))
	for i, s := range stack {
		names[i] = e.display(s)
	}
	return strings.Join(names, " -> ")
}

// mergeVars layers an include's context over the inherited one. A nil result
// means variables are left untouched.
func mergeVars(outer, inner map[string]any) map[string]any {
	if inner == nil {
		return outer
	}
	merged := make(map[string]any, len(outer)+len(inner))
	for k, v := range outer {
		merged[k] = v
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

func substitute(raw []byte, name string, vars map[string]any) []byte {
	if vars == nil {
		return raw
	}
	v, ok := vars[name]
	if !ok {
		return raw
	}
	switch val := v.(type) {
	case string:
		return []byte(val)
	case nil:
		return nil
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return raw
		}
		return b
	default:
		return []byte(fmt.Sprint(val))
	}
}
