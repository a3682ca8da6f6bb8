package paths

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry_SplitsRootAtFirstGlobSegment(t *testing.T) {
	tests := []struct {
		source  string
		root    string
		pattern string
	}{
		{"src/styles/**/*.scss", "src/styles", "**/*.scss"},
		{"src/assets/images/**/*", "src/assets/images", "**/*"},
		{"src/*.html", "src", "*.html"},
		{"./src/templates/components/*.html", "src/templates/components", "*.html"},
		{"src/index.html", "src", "index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			e, err := NewEntry(model.CategoryStyles, Spec{Source: tt.source, Dest: "dist"})
			require.NoError(t, err)
			assert.Equal(t, tt.root, e.Root())
			assert.Equal(t, tt.pattern, e.Pattern())
		})
	}
}

func TestNewEntry_RejectsParentReferences(t *testing.T) {
	_, err := NewEntry(model.CategoryImages, Spec{Source: "../src/**/*", Dest: "dist"})
	require.Error(t, err)
}

func TestEntry_Match(t *testing.T) {
	styles, err := NewEntry(model.CategoryStyles, Spec{Source: "src/styles/**/*.scss", Dest: "dist/styles"})
	require.NoError(t, err)
	html, err := NewEntry(model.CategoryHTML, Spec{Source: "src/*.html", Dest: "dist"})
	require.NoError(t, err)

	assert.True(t, styles.Match("src/styles/main.scss"))
	assert.True(t, styles.Match("src/styles/blocks/header/header.scss"))
	assert.False(t, styles.Match("src/styles/main.css"))
	assert.False(t, styles.Match("src/stylesheets/main.scss"))

	assert.True(t, html.Match("src/index.html"))
	assert.False(t, html.Match("src/templates/header.html"))
	assert.False(t, html.Match("src/index.htm"))
}

func TestEntry_DeriveKeepsRemainder(t *testing.T) {
	e, err := NewEntry(model.CategoryImages, Spec{Source: "src/assets/images/**/*", Dest: "dist/assets/images"})
	require.NoError(t, err)

	sources := []string{
		"src/assets/images/logo.png",
		"src/assets/images/icons/social/twitter.svg",
		"src/assets/images/src/assets/images/nested.jpg",
		"src/assets/images/with space/é.png",
	}

	for _, src := range sources {
		out, err := e.Derive(src)
		require.NoError(t, err, src)
		assert.True(t, strings.HasPrefix(out, "dist/assets/images/"), out)

		srcRest := strings.TrimPrefix(src, "src/assets/images/")
		outRest := strings.TrimPrefix(out, "dist/assets/images/")
		assert.Equal(t, srcRest, outRest)
	}
}

func TestEntry_DeriveRejectsSiblingWithRootAsSubstring(t *testing.T) {
	e, err := NewEntry(model.CategoryImages, Spec{Source: "src/assets/images/**/*", Dest: "dist/assets/images"})
	require.NoError(t, err)

	for _, p := range []string{
		"src/assets/images-old/logo.png",
		"src/assets/imagesx/logo.png",
		"lib/src/assets/images/logo.png",
		"src/assets/images",
	} {
		_, err := e.Derive(p)
		assert.ErrorIs(t, err, ErrOutsideRoot, p)
	}
}

func TestTable_DeriveAbsolute(t *testing.T) {
	// The project root itself contains the source-root string
	base := filepath.Join(t.TempDir(), "src", "assets", "images", "project")
	table, err := NewTable(base, DefaultSpecs())
	require.NoError(t, err)

	src := filepath.Join(base, "src", "assets", "images", "logo.png")
	out, err := table.Derive(model.CategoryImages, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "dist", "assets", "images", "logo.png"), out)

	_, err = table.Derive(model.CategoryImages, filepath.Join(filepath.Dir(base), "logo.png"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestTable_Classify(t *testing.T) {
	base := t.TempDir()
	table, err := NewTable(base, DefaultSpecs())
	require.NoError(t, err)

	assert.Equal(t,
		[]model.Category{model.CategoryImages, model.CategoryWebP},
		table.Classify(filepath.Join(base, "src", "assets", "images", "a", "b.png")))
	assert.Equal(t,
		[]model.Category{model.CategoryStyles},
		table.Classify(filepath.Join(base, "src", "styles", "main.scss")))
	assert.Equal(t,
		[]model.Category{model.CategoryComponents},
		table.Classify("src/templates/components/header.html"))
	assert.Empty(t, table.Classify(filepath.Join(base, "README.md")))
	assert.Empty(t, table.Classify("/elsewhere/src/index.html"))
}

func TestTable_ClassifyDeleted(t *testing.T) {
	base := t.TempDir()
	table, err := NewTable(base, DefaultSpecs())
	require.NoError(t, err)

	// A removed directory does not match any file glob but may have held files
	assert.Empty(t, table.Classify(filepath.Join(base, "src", "styles", "pages")))
	assert.Equal(t,
		[]model.Category{model.CategoryStyles},
		table.ClassifyDeleted(filepath.Join(base, "src", "styles", "pages")))
	assert.Equal(t,
		[]model.Category{model.CategoryImages, model.CategoryWebP},
		table.ClassifyDeleted(filepath.Join(base, "src", "assets", "images", "photos")))

	// Single-level patterns cannot reach into subdirectories
	assert.Empty(t, table.ClassifyDeleted(filepath.Join(base, "src", "templates", "components", "old")))
	assert.Equal(t,
		[]model.Category{model.CategoryHTML},
		table.ClassifyDeleted(filepath.Join(base, "src", "index.html")))
}

func TestTable_Roots(t *testing.T) {
	base := t.TempDir()
	table, err := NewTable(base, DefaultSpecs())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(table.Base(), "src"), table.SourceRoot())
	assert.Equal(t, filepath.Join(table.Base(), "dist"), table.OutputRoot())
	assert.Equal(t, filepath.Join(table.Base(), "src", "styles"), table.SourceDir(model.CategoryStyles))
	assert.Equal(t, filepath.Join(table.Base(), "dist"), table.DestDir(model.CategoryHTML))
}

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dist/assets/images/logo.png", "dist/assets/images/logo.webp"},
		{"dist/assets/images/photo.min.jpeg", "dist/assets/images/photo.min.webp"},
		{"dist/assets/images/already.webp", "dist/assets/images/already.webp"},
		{"dist/assets/images/noext", "dist/assets/images/noext.webp"},
		{"dist/assets/images.d/noext", "dist/assets/images.d/noext.webp"},
		{"dist/assets/images/.hidden", "dist/assets/images/.hidden.webp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WebPName(tt.in), tt.in)
	}
}

func TestWebPNameDiffersOnlyInExtension(t *testing.T) {
	for _, p := range []string{"dist/a/b/logo.png", "dist/x.y/z.gif", "dist/deep/er/pic.JPG"} {
		w := WebPName(p)
		assert.Equal(t, strings.TrimSuffix(p, filepath.Ext(p)), strings.TrimSuffix(w, filepath.Ext(w)))
		assert.Equal(t, WebPExt, filepath.Ext(w))
	}
}
