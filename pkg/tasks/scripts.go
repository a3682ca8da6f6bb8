package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/finder"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
)

// DefaultBundle is the concatenated script name
const DefaultBundle = "main.js"

// Scripts concatenates every script into one bundle and writes it together
// with a minified copy
type Scripts struct {
	table     *paths.Table
	bundle    string
	sourcemap bool
}

// NewScripts creates the scripts task
func NewScripts(table *paths.Table, cfg config.ScriptsConfig) *Scripts {
	bundle := cfg.Bundle
	if bundle == "" {
		bundle = DefaultBundle
	}
	return &Scripts{table: table, bundle: bundle, sourcemap: cfg.Sourcemap}
}

func (s *Scripts) Name() string {
	return string(model.CategoryScripts)
}

func (s *Scripts) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	files, err := finder.FindFiles(s.table, model.CategoryScripts)
	if err != nil {
		return nil, fmt.Errorf("failed to find scripts: %w", err)
	}

	c := newCollector(s.Name(), len(files))
	if len(files) == 0 {
		c.log.Debug("no scripts to bundle")
		return c.finish(start), nil
	}

	var parts [][]byte
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(f)
		if err != nil {
			c.fail(f, err)
			continue
		}
		parts = append(parts, data)
	}
	if len(parts) == 0 {
		return c.finish(start), nil
	}
	bundle := bytes.Join(parts, []byte("\n"))

	dest := filepath.Join(s.table.DestDir(model.CategoryScripts), s.bundle)
	if err := writeFile(dest, bundle); err != nil {
		c.fail(dest, err)
		return c.finish(start), nil
	}
	c.output(dest)

	minPath := paths.ReplaceExt(dest, ".min.js")
	minified, sourceMap, err := s.minify(bundle, filepath.Base(minPath))
	if err != nil {
		c.fail(dest, err)
		return c.finish(start), nil
	}
	if err := writeFile(minPath, minified); err != nil {
		c.fail(minPath, err)
		return c.finish(start), nil
	}
	c.output(minPath)

	if sourceMap != nil {
		if err := writeFile(minPath+".map", sourceMap); err != nil {
			c.fail(minPath+".map", err)
		} else {
			c.output(minPath + ".map")
		}
	}

	return c.finish(start), nil
}

func (s *Scripts) minify(src []byte, minName string) ([]byte, []byte, error) {
	opts := api.TransformOptions{
		Loader:            api.LoaderJS,
		Sourcefile:        s.bundle,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LogLevel:          api.LogLevelSilent,
	}
	if s.sourcemap {
		opts.Sourcemap = api.SourceMapExternal
	}

	result := api.Transform(string(src), opts)
	if len(result.Errors) > 0 {
		return nil, nil, messagesError("minify", result.Errors)
	}

	if !s.sourcemap {
		return result.Code, nil, nil
	}
	code := append(result.Code, []byte("//# sourceMappingURL="+minName+".map\n")...)
	return code, result.Map, nil
}
