package tasks

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/finder"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DefaultWebPQuality is used when the configuration leaves it unset
const DefaultWebPQuality = 75

// rasterExts are the source formats converted to WebP. Existing .webp
// sources are left to the images task, which writes them under the same name.
var rasterExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// WebP writes a .webp sibling for every raster image
type WebP struct {
	table    *paths.Table
	quality  float32
	lossless bool
}

// NewWebP creates the webp task
func NewWebP(table *paths.Table, cfg config.ImagesConfig) *WebP {
	q := cfg.WebPQuality
	if q <= 0 || q > 100 {
		q = DefaultWebPQuality
	}
	return &WebP{table: table, quality: q, lossless: cfg.WebPLossless}
}

func (w *WebP) Name() string {
	return string(model.CategoryWebP)
}

func (w *WebP) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	files, err := finder.FindFiles(w.table, model.CategoryWebP)
	if err != nil {
		return nil, fmt.Errorf("failed to find images: %w", err)
	}

	var sources []string
	for _, f := range files {
		if Convertible(f) {
			sources = append(sources, f)
		}
	}

	c := newCollector(w.Name(), len(sources))
	if err := forEachFile(ctx, c, sources, w.convert); err != nil {
		return nil, err
	}
	return c.finish(start), nil
}

// Convertible reports whether the webp task produces output for file
func Convertible(file string) bool {
	return rasterExts[strings.ToLower(filepath.Ext(file))]
}

func (w *WebP) convert(_ context.Context, file string) ([]string, error) {
	dest, err := w.table.Derive(model.CategoryWebP, file)
	if err != nil {
		return nil, err
	}
	dest = paths.WebPName(dest)

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: w.lossless, Quality: w.quality}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("failed to encode %s as webp: %w", format, err)
	}

	if err := writeFile(dest, buf.Bytes()); err != nil {
		return nil, err
	}
	return []string{dest}, nil
}
