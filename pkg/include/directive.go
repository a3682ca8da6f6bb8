// Package include expands textual inclusion directives in HTML sources.
//
// A directive is the marker prefix (default "@@") followed immediately by
// either a relative path, a call, or a variable name:
//
//	@@header.html
//	@@include('card.html', {"title": "Pricing"})
//	@@title
//
// Paths resolve against a fixed base directory. Variables are only replaced
// inside files that were included with a context.
//
// The marker is recognised anywhere in the text and there is no escape for
// it. Literal text such as user@@host.name is read as an include of
// host.name, so pages must avoid the marker outside directives or configure
// a different one (html.prefix).
package include

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrMalformed is returned for directives that start like an include call but
// cannot be parsed
var ErrMalformed = errors.New("malformed include directive")

// Kind distinguishes file inclusions from variable references
type Kind int

const (
	KindInclude Kind = iota
	KindVariable
)

// Directive is one parsed occurrence of the marker
type Directive struct {
	Kind    Kind
	Start   int // offset of the marker
	End     int // offset just past the directive
	Line    int
	Path    string         // KindInclude
	Context map[string]any // KindInclude, optional
	Name    string         // KindVariable
}

const callKeyword = "include"

var (
	barePath = regexp.MustCompile(`^[A-Za-z0-9_.][A-Za-z0-9_\-./]*\.[A-Za-z0-9]+`)
	varName  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
)

// Parse finds every directive in src. Marker occurrences that are neither a
// path nor a name (e.g. "@@ ") are left alone.
func Parse(src []byte, prefix string) ([]Directive, error) {
	if prefix == "" {
		return nil, fmt.Errorf("empty directive prefix")
	}
	marker := []byte(prefix)

	var out []Directive
	for i := 0; i < len(src); {
		j := bytes.Index(src[i:], marker)
		if j < 0 {
			break
		}
		start := i + j
		pos := start + len(marker)
		rest := src[pos:]
		line := bytes.Count(src[:start], []byte{'\n'}) + 1

		if isCall(rest) {
			d, err := parseCall(src, pos+len(callKeyword))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			d.Start = start
			d.Line = line
			out = append(out, d)
			i = d.End
			continue
		}

		if m := barePath.Find(rest); m != nil {
			out = append(out, Directive{
				Kind:  KindInclude,
				Start: start,
				End:   pos + len(m),
				Line:  line,
				Path:  string(m),
			})
			i = pos + len(m)
			continue
		}

		if m := varName.Find(rest); m != nil {
			if string(m) == callKeyword {
				return nil, fmt.Errorf("line %d: %w: %s%s without arguments", line, ErrMalformed, prefix, callKeyword)
			}
			out = append(out, Directive{
				Kind:  KindVariable,
				Start: start,
				End:   pos + len(m),
				Line:  line,
				Name:  string(m),
			})
			i = pos + len(m)
			continue
		}

		i = pos
	}
	return out, nil
}

// isCall reports whether rest starts with the include keyword followed by
// an opening parenthesis
func isCall(rest []byte) bool {
	if !bytes.HasPrefix(rest, []byte(callKeyword)) {
		return false
	}
	p := skipSpace(rest, len(callKeyword))
	return p < len(rest) && rest[p] == '('
}

// parseCall parses ('path'[, {json}]) starting at p, just past the keyword
func parseCall(src []byte, p int) (Directive, error) {
	d := Directive{Kind: KindInclude}

	p = skipSpace(src, p)
	p++ // '('
	p = skipSpace(src, p)
	if p >= len(src) || (src[p] != '\'' && src[p] != '"') {
		return d, fmt.Errorf("%w: expected quoted path", ErrMalformed)
	}
	quote := src[p]
	p++
	end := bytes.IndexByte(src[p:], quote)
	if end < 0 || bytes.IndexByte(src[p:p+end], '\n') >= 0 {
		return d, fmt.Errorf("%w: unterminated path", ErrMalformed)
	}
	d.Path = string(src[p : p+end])
	if d.Path == "" {
		return d, fmt.Errorf("%w: empty path", ErrMalformed)
	}
	p = skipSpace(src, p+end+1)

	if p < len(src) && src[p] == ',' {
		p = skipSpace(src, p+1)
		dec := json.NewDecoder(bytes.NewReader(src[p:]))
		var ctx map[string]any
		if err := dec.Decode(&ctx); err != nil {
			return d, fmt.Errorf("%w: context for %q: %v", ErrMalformed, d.Path, err)
		}
		d.Context = ctx
		p = skipSpace(src, p+int(dec.InputOffset()))
	}

	if p >= len(src) || src[p] != ')' {
		return d, fmt.Errorf("%w: missing ')' after %q", ErrMalformed, d.Path)
	}
	d.End = p + 1
	return d, nil
}

func skipSpace(b []byte, p int) int {
	for p < len(b) && (b[p] == ' ' || b[p] == '\t' || b[p] == '\n' || b[p] == '\r') {
		p++
	}
	return p
}
