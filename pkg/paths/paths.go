package paths

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/ritzau/assetpipe/pkg/model"
)

// WebPExt is the extension of the converted sibling produced for every image
const WebPExt = ".webp"

// ErrOutsideRoot is returned when a path does not lie under a category's source root
var ErrOutsideRoot = errors.New("path is outside the category source root")

// Spec is the configured source glob and destination directory of a category.
// Both are slash-separated and relative to the project root.
type Spec struct {
	Source string `koanf:"src"`
	Dest   string `koanf:"dest"`
}

// DefaultSpecs returns the standard src/ -> dist/ layout
func DefaultSpecs() map[model.Category]Spec {
	return map[model.Category]Spec{
		model.CategoryStyles:     {Source: "src/styles/**/*.scss", Dest: "dist/styles"},
		model.CategoryScripts:    {Source: "src/scripts/**/*.js", Dest: "dist/scripts"},
		model.CategoryImages:     {Source: "src/assets/images/**/*", Dest: "dist/assets/images"},
		model.CategoryWebP:       {Source: "src/assets/images/**/*", Dest: "dist/assets/images"},
		model.CategoryHTML:       {Source: "src/*.html", Dest: "dist"},
		model.CategoryComponents: {Source: "src/templates/components/*.html", Dest: "dist/templates/components"},
	}
}

// Entry is one row of the path table. The source root is the static
// directory prefix of the glob, held as segments so that derivation is a
// segment-list substitution rather than a substring replace.
type Entry struct {
	Category model.Category
	Source   string
	Dest     string

	root    []string
	dest    []string
	pattern string
	globs   []glob.Glob
}

// NewEntry parses a spec into an entry
func NewEntry(category model.Category, spec Spec) (*Entry, error) {
	segs, err := segments(spec.Source)
	if err != nil {
		return nil, fmt.Errorf("%s source: %w", category, err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%s source is empty", category)
	}
	dest, err := segments(spec.Dest)
	if err != nil {
		return nil, fmt.Errorf("%s dest: %w", category, err)
	}

	// Root ends at the first segment carrying glob syntax
	split := len(segs)
	for i, s := range segs {
		if strings.ContainsAny(s, "*?[{") {
			split = i
			break
		}
	}
	if split == len(segs) {
		// A literal file: its directory is the root
		split = len(segs) - 1
	}

	e := &Entry{
		Category: category,
		Source:   spec.Source,
		Dest:     spec.Dest,
		root:     segs[:split],
		dest:     dest,
		pattern:  strings.Join(segs[split:], "/"),
	}

	patterns := []string{e.pattern}
	// "**/" should also match files directly under the root
	if rest, ok := strings.CutPrefix(e.pattern, "**/"); ok {
		patterns = append(patterns, rest)
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%s: compiling %q: %w", category, p, err)
		}
		e.globs = append(e.globs, g)
	}

	return e, nil
}

// Root returns the source root, slash-separated and relative to the project root
func (e *Entry) Root() string {
	return strings.Join(e.root, "/")
}

// DestRoot returns the destination root, slash-separated and relative to the project root
func (e *Entry) DestRoot() string {
	return strings.Join(e.dest, "/")
}

// Pattern returns the glob part of the source below the root
func (e *Entry) Pattern() string {
	return e.pattern
}

// Remainder splits rel at the root boundary and returns what follows the root.
// rel is slash-separated and relative to the project root.
func (e *Entry) Remainder(rel string) (string, error) {
	segs, err := segments(rel)
	if err != nil {
		return "", err
	}
	rest, ok := e.remainder(segs)
	if !ok {
		return "", fmt.Errorf("%s not under %s: %w", rel, e.Root(), ErrOutsideRoot)
	}
	return strings.Join(rest, "/"), nil
}

func (e *Entry) remainder(segs []string) ([]string, bool) {
	if len(segs) <= len(e.root) {
		return nil, false
	}
	for i, s := range e.root {
		if segs[i] != s {
			return nil, false
		}
	}
	return segs[len(e.root):], true
}

// Match reports whether rel (slash-separated, relative to the project root)
// is selected by this entry's glob
func (e *Entry) Match(rel string) bool {
	segs, err := segments(rel)
	if err != nil {
		return false
	}
	return e.matchSegments(segs)
}

// MatchRemainder reports whether a path relative to the source root is
// selected by the glob
func (e *Entry) MatchRemainder(rest string) bool {
	for _, g := range e.globs {
		if g.Match(rest) {
			return true
		}
	}
	return false
}

func (e *Entry) matchSegments(segs []string) bool {
	rest, ok := e.remainder(segs)
	if !ok {
		return false
	}
	return e.MatchRemainder(strings.Join(rest, "/"))
}

// MayContain reports whether rel, taken as a directory, could hold files the
// glob selects. A `**` pattern reaches any depth; otherwise the directory must
// be shallower than the pattern.
func (e *Entry) MayContain(rel string) bool {
	segs, err := segments(rel)
	if err != nil {
		return false
	}
	rest, ok := e.remainder(segs)
	if !ok {
		return false
	}
	if strings.Contains(e.pattern, "**") {
		return true
	}
	return len(rest) < len(strings.Split(e.pattern, "/"))
}

// Derive maps a source path to its output path by replacing the root
// segments with the destination segments. The remainder is kept byte for byte.
func (e *Entry) Derive(rel string) (string, error) {
	rest, err := e.Remainder(rel)
	if err != nil {
		return "", err
	}
	if len(e.dest) == 0 {
		return rest, nil
	}
	return e.DestRoot() + "/" + rest, nil
}

// Table is the static category -> paths configuration, read-only once built
type Table struct {
	base    string
	entries map[model.Category]*Entry
}

// NewTable builds a table rooted at base. Categories absent from specs are
// not part of the table.
func NewTable(base string, specs map[model.Category]Spec) (*Table, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	t := &Table{
		base:    abs,
		entries: make(map[model.Category]*Entry, len(specs)),
	}
	for category, spec := range specs {
		e, err := NewEntry(category, spec)
		if err != nil {
			return nil, err
		}
		t.entries[category] = e
	}
	return t, nil
}

// Base returns the absolute project root
func (t *Table) Base() string {
	return t.base
}

// Entry looks up a category
func (t *Table) Entry(category model.Category) (*Entry, bool) {
	e, ok := t.entries[category]
	return e, ok
}

// Categories returns the configured categories in build order
func (t *Table) Categories() []model.Category {
	var out []model.Category
	for _, c := range model.Categories() {
		if _, ok := t.entries[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Rel converts an absolute or project-relative path into a slash-separated
// path relative to the project root
func (t *Table) Rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.base, p)
	}
	rel, err := filepath.Rel(t.base, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s: %w", p, t.base, ErrOutsideRoot)
	}
	return rel, nil
}

// Abs converts a slash-separated project-relative path into an absolute one
func (t *Table) Abs(rel string) string {
	return filepath.Join(t.base, filepath.FromSlash(rel))
}

// SourceDir returns the absolute source root of a category
func (t *Table) SourceDir(category model.Category) string {
	e, ok := t.entries[category]
	if !ok {
		return ""
	}
	return t.Abs(e.Root())
}

// DestDir returns the absolute destination root of a category
func (t *Table) DestDir(category model.Category) string {
	e, ok := t.entries[category]
	if !ok {
		return ""
	}
	return t.Abs(e.DestRoot())
}

// Classify returns every category whose glob selects p
func (t *Table) Classify(p string) []model.Category {
	rel, err := t.Rel(p)
	if err != nil {
		return nil
	}
	var out []model.Category
	for _, c := range t.Categories() {
		if t.entries[c].Match(rel) {
			out = append(out, c)
		}
	}
	return out
}

// ClassifyDeleted is Classify for a path that no longer exists. The path may
// have been a directory, so categories whose files could lie below it are
// included as well.
func (t *Table) ClassifyDeleted(p string) []model.Category {
	rel, err := t.Rel(p)
	if err != nil {
		return nil
	}
	var out []model.Category
	for _, c := range t.Categories() {
		if e := t.entries[c]; e.Match(rel) || e.MayContain(rel) {
			out = append(out, c)
		}
	}
	return out
}

// Derive maps an absolute or project-relative source path of a category to
// the absolute output path
func (t *Table) Derive(category model.Category, p string) (string, error) {
	e, ok := t.entries[category]
	if !ok {
		return "", fmt.Errorf("no path entry for category %q", category)
	}
	rel, err := t.Rel(p)
	if err != nil {
		return "", err
	}
	out, err := e.Derive(rel)
	if err != nil {
		return "", err
	}
	return t.Abs(out), nil
}

// SourceRoot returns the deepest directory containing every category's source root
func (t *Table) SourceRoot() string {
	var roots [][]string
	for _, e := range t.entries {
		roots = append(roots, e.root)
	}
	return t.Abs(strings.Join(commonPrefix(roots), "/"))
}

// OutputRoot returns the deepest directory containing every category's destination
func (t *Table) OutputRoot() string {
	var roots [][]string
	for _, e := range t.entries {
		roots = append(roots, e.dest)
	}
	return t.Abs(strings.Join(commonPrefix(roots), "/"))
}

// ReplaceExt swaps the extension of the final element of p. Names without an
// extension, including dotfiles, get ext appended.
func ReplaceExt(p, ext string) string {
	base := path.Base(filepath.ToSlash(p))
	old := path.Ext(base)
	if old == "" || old == base {
		return p + ext
	}
	return strings.TrimSuffix(p, old) + ext
}

// WebPName returns the WebP sibling of an image path
func WebPName(p string) string {
	return ReplaceExt(p, WebPExt)
}

func segments(p string) ([]string, error) {
	p = filepath.ToSlash(p)
	var out []string
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%q: parent references are not allowed", p)
		}
		out = append(out, s)
	}
	return out, nil
}

func commonPrefix(lists [][]string) []string {
	if len(lists) == 0 {
		return nil
	}
	prefix := lists[0]
	for _, l := range lists[1:] {
		n := 0
		for n < len(prefix) && n < len(l) && prefix[n] == l[n] {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}
