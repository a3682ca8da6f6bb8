package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/finder"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/tdewolff/minify/v2"
)

// StyleCompiler turns one SCSS file into plain CSS
type StyleCompiler interface {
	Compile(ctx context.Context, path string) ([]byte, error)
}

// SassCLI compiles through the dart-sass executable
type SassCLI struct {
	Binary    string
	LoadPaths []string
}

// Compile runs sass on path and returns the CSS written to stdout
func (s SassCLI) Compile(ctx context.Context, path string) ([]byte, error) {
	bin := s.Binary
	if bin == "" {
		bin = "sass"
	}

	args := []string{"--no-source-map", "--style=expanded"}
	for _, p := range s.LoadPaths {
		args = append(args, "--load-path", p)
	}
	args = append(args, path)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", bin, err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, msg)
	}
	return stdout.Bytes(), nil
}

// Styles compiles SCSS entry files into a prefixed .css and a minified
// .min.css next to each other
type Styles struct {
	table    *paths.Table
	compiler StyleCompiler
	engines  []api.Engine
	minifier *minify.M
}

// NewStyles creates the styles task. A nil compiler means the sass CLI.
func NewStyles(table *paths.Table, cfg config.StylesConfig, compiler StyleCompiler) (*Styles, error) {
	if compiler == nil {
		loadPaths := make([]string, len(cfg.LoadPaths))
		for i, p := range cfg.LoadPaths {
			loadPaths[i] = table.Abs(p)
		}
		compiler = SassCLI{Binary: cfg.Sass, LoadPaths: loadPaths}
	}

	engines, err := ParseEngines(cfg.Targets)
	if err != nil {
		return nil, err
	}

	return &Styles{
		table:    table,
		compiler: compiler,
		engines:  engines,
		minifier: newMinifier(),
	}, nil
}

func (s *Styles) Name() string {
	return string(model.CategoryStyles)
}

func (s *Styles) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	files, err := finder.FindFiles(s.table, model.CategoryStyles)
	if err != nil {
		return nil, fmt.Errorf("failed to find styles: %w", err)
	}

	// Partials are only compiled through the files that import them
	var entries []string
	for _, f := range files {
		if !strings.HasPrefix(filepath.Base(f), "_") {
			entries = append(entries, f)
		}
	}

	c := newCollector(s.Name(), len(entries))
	if err := forEachFile(ctx, c, entries, s.compile); err != nil {
		return nil, err
	}
	return c.finish(start), nil
}

func (s *Styles) compile(ctx context.Context, file string) ([]string, error) {
	dest, err := s.table.Derive(model.CategoryStyles, file)
	if err != nil {
		return nil, err
	}
	cssPath := paths.ReplaceExt(dest, ".css")
	minPath := paths.ReplaceExt(dest, ".min.css")

	compiled, err := s.compiler.Compile(ctx, file)
	if err != nil {
		return nil, err
	}

	prefixed, err := s.prefix(compiled, filepath.Base(file))
	if err != nil {
		return nil, err
	}
	if err := writeFile(cssPath, prefixed); err != nil {
		return nil, err
	}

	minified, err := s.minifier.Bytes(mimeCSS, prefixed)
	if err != nil {
		return nil, fmt.Errorf("failed to minify: %w", err)
	}
	if err := writeFile(minPath, minified); err != nil {
		return nil, err
	}
	return []string{cssPath, minPath}, nil
}

// prefix lowers the CSS for the configured engines, adding vendor prefixes
// where those engines need them
func (s *Styles) prefix(src []byte, name string) ([]byte, error) {
	result := api.Transform(string(src), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    s.engines,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, messagesError("prefix", result.Errors)
	}
	return result.Code, nil
}

var enginePattern = regexp.MustCompile(`^([a-z]+)(\d[\d.]*)$`)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// ParseEngines converts targets like "chrome120" or "safari16.4" into esbuild engines
func ParseEngines(targets []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(targets))
	for _, t := range targets {
		m := enginePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(t)))
		if m == nil {
			return nil, fmt.Errorf("invalid style target %q", t)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q in style target %q", m[1], t)
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}

func messagesError(step string, msgs []api.Message) error {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			texts = append(texts, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
		} else {
			texts = append(texts, m.Text)
		}
	}
	return fmt.Errorf("%s: %s", step, strings.Join(texts, "; "))
}
