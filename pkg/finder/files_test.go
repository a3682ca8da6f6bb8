package finder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(base, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
	}
}

func TestFindFiles(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base,
		"src/styles/main.scss",
		"src/styles/blocks/header.scss",
		"src/styles/readme.md",
		"src/styles/.cache/stale.scss",
		"src/index.html",
		"src/about.html",
		"src/templates/header.html",
	)

	table, err := paths.NewTable(base, paths.DefaultSpecs())
	require.NoError(t, err)

	styles, err := FindFiles(table, model.CategoryStyles)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(table.Base(), "src", "styles", "blocks", "header.scss"),
		filepath.Join(table.Base(), "src", "styles", "main.scss"),
	}, styles)

	pages, err := FindFiles(table, model.CategoryHTML)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(table.Base(), "src", "about.html"),
		filepath.Join(table.Base(), "src", "index.html"),
	}, pages)
}

func TestFindFiles_MissingRoot(t *testing.T) {
	table, err := paths.NewTable(t.TempDir(), paths.DefaultSpecs())
	require.NoError(t, err)

	files, err := FindFiles(table, model.CategoryScripts)
	require.NoError(t, err)
	assert.Empty(t, files)
}
