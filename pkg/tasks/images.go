package tasks

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/finder"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/tdewolff/minify/v2"
)

// DefaultJPEGQuality is used when the configuration leaves it unset
const DefaultJPEGQuality = 82

// Images optimises every image and writes it under the same name
type Images struct {
	table       *paths.Table
	jpegQuality int
	minifier    *minify.M
}

// NewImages creates the images task
func NewImages(table *paths.Table, cfg config.ImagesConfig) *Images {
	q := cfg.JPEGQuality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	return &Images{table: table, jpegQuality: q, minifier: newMinifier()}
}

func (i *Images) Name() string {
	return string(model.CategoryImages)
}

func (i *Images) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	files, err := finder.FindFiles(i.table, model.CategoryImages)
	if err != nil {
		return nil, fmt.Errorf("failed to find images: %w", err)
	}

	c := newCollector(i.Name(), len(files))
	if err := forEachFile(ctx, c, files, i.process); err != nil {
		return nil, err
	}
	return c.finish(start), nil
}

func (i *Images) process(_ context.Context, file string) ([]string, error) {
	dest, err := i.table.Derive(model.CategoryImages, file)
	if err != nil {
		return nil, err
	}

	original, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	optimised, err := i.optimise(file, original)
	if err != nil {
		return nil, err
	}

	out := original
	if optimised != nil && len(optimised) < len(original) {
		out = optimised
	}
	if err := writeFile(dest, out); err != nil {
		return nil, err
	}
	return []string{dest}, nil
}

// optimise returns a smaller encoding of data, or nil when the format is
// copied as is
func (i *Images) optimise(file string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode png: %w", err)
		}
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), nil

	case ".jpg", ".jpeg":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode jpeg: %w", err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: i.jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return buf.Bytes(), nil

	case ".svg":
		out, err := i.minifier.Bytes(mimeSVG, data)
		if err != nil {
			return nil, fmt.Errorf("failed to minify svg: %w", err)
		}
		return out, nil

	default:
		return nil, nil
	}
}
