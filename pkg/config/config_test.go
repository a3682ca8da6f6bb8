package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Int("port", 3000, "")
	f.String("root", ".", "")
	f.Duration("debounce", 150*time.Millisecond, "")
	f.CountP("verbose", "v", "")
	return f
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile("", nil)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 150*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "main.js", cfg.Scripts.Bundle)
	assert.Equal(t, "@@", cfg.HTML.Prefix)
	assert.Equal(t, "src/templates", cfg.HTML.Base)

	specs, err := cfg.PathSpecs()
	require.NoError(t, err)
	require.Len(t, specs, len(model.Categories()))
	assert.Equal(t, "src/assets/images/**/*", specs[model.CategoryImages].Source)
	assert.Equal(t, "dist/assets/images", specs[model.CategoryImages].Dest)

	sync, err := cfg.SyncCategories()
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryImages}, sync)
}

func TestLoad_FileEnvFlagsPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
port = 4000
root = "site"

[styles]
sass = "/opt/dart-sass/sass"

[paths.styles]
src = "assets/scss/**/*.scss"
dest = "public/css"

[sync]
categories = ["images", "styles"]
`), 0o644))

	t.Setenv("ASSETPIPE_PORT", "5000")
	t.Setenv("ASSETPIPE_IMAGES_JPEG_QUALITY", "70")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--root", "other", "-vv"}))

	cfg, err := LoadFile(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port, "env beats file")
	assert.Equal(t, "other", cfg.Root, "flag beats file")
	assert.Equal(t, 2, cfg.VerboseCnt)
	assert.Equal(t, 70, cfg.Images.JPEGQuality)
	assert.Equal(t, "/opt/dart-sass/sass", cfg.Styles.Sass)

	specs, err := cfg.PathSpecs()
	require.NoError(t, err)
	assert.Equal(t, "assets/scss/**/*.scss", specs[model.CategoryStyles].Source)
	assert.Equal(t, "public/css", specs[model.CategoryStyles].Dest)
	assert.Equal(t, "src/scripts/**/*.js", specs[model.CategoryScripts].Source)

	sync, err := cfg.SyncCategories()
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryImages, model.CategoryStyles}, sync)
}

func TestLoad_UnchangedFlagsDoNotOverride(t *testing.T) {
	t.Setenv("ASSETPIPE_PORT", "8081")

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadFile("", flags)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
}

func TestLoad_RejectsUnknownSyncCategory(t *testing.T) {
	t.Setenv("ASSETPIPE_SYNC_CATEGORIES", "fonts")

	_, err := LoadFile("", nil)
	assert.ErrorContains(t, err, "sync.categories")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), FileName), nil)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
}

func TestLoad_MalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("port = 9090\n[images\njpeg_quality = 70\n"), 0o644))

	_, err := LoadFile(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "port", envKey("ASSETPIPE_PORT"))
	assert.Equal(t, "log-json", envKey("ASSETPIPE_LOG_JSON"))
	assert.Equal(t, "images.webp_quality", envKey("ASSETPIPE_IMAGES_WEBP_QUALITY"))
	assert.Equal(t, "paths.styles.src", envKey("ASSETPIPE_PATHS_STYLES_SRC"))
}
