package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactHandler_CategoryPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, nil)).With(CategoryKey, "images")

	log.Info("removed stale output", "path", "dist/assets/images/logo.webp", "durationMs", int64(3))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[INFO]  "), line)
	assert.Contains(t, line, "[images] removed stale output | ")
	assert.Contains(t, line, "path=dist/assets/images/logo.webp")
	assert.Contains(t, line, "duration=3ms")
	assert.NotContains(t, line, "category=")
}

func TestCompactHandler_LevelsAndQuoting(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	log.Log(t.Context(), LevelTrace, "event", "path", "with space.png")
	log.Error("failed", "error", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[TRACE] "), lines[0])
	assert.Contains(t, lines[0], `path="with space.png"`)
	assert.Contains(t, lines[1], `error="boom"`)
}

func TestCompactHandler_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  slog.Level
	}{
		{"", 0, slog.LevelInfo},
		{"", 1, slog.LevelDebug},
		{"", 3, LevelTrace},
		{"warn", 2, slog.LevelWarn},
		{"ERROR", 0, slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name, tt.count)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("loud", 0)
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed", seen)
}

func TestCompactHandler_ShortensPaths(t *testing.T) {
	root := t.TempDir()
	SetPathRoot(root)
	t.Cleanup(func() { pathRoot.Store(nil) })

	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, nil))
	log.Info("wrote", "path", filepath.Join(root, "dist", "index.html"), "other", filepath.Join(root, "x"))
	log.Info("outside", "path", "/elsewhere/file.css")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "path=dist/index.html")
	assert.Contains(t, lines[0], "other="+filepath.Join(root, "x"))
	assert.Contains(t, lines[1], "path=/elsewhere/file.css")
}
