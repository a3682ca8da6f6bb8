package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/assetpipe/pkg/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "styles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"),
		[]byte("<html><body><p>hi</p></BODY></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "styles", "main.css"),
		[]byte("a{color:red}"), 0o644))

	s, err := NewServer(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, dir
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_InjectsClientIntoPages(t *testing.T) {
	s, _ := newTestServer(t)

	for _, target := range []string{"/", "/index.html"} {
		rec := get(t, s.Handler(), target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t,
			`<html><body><p>hi</p><script src="/__livereload/client.js" async></script></BODY></html>`,
			rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestServer_ServesAssetsUntouched(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/styles/main.css")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a{color:red}", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/missing.html").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/missing.png").Code)
}

func TestServer_ClientScript(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), ClientScriptPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "/__livereload/events")
}

func TestInjectClient_NoBody(t *testing.T) {
	out := InjectClient([]byte("<p>fragment</p>"))
	assert.Equal(t, `<p>fragment</p><script src="/__livereload/client.js" async></script>`, string(out))
}

// readEvent reads SSE lines until a data line arrives
func readEvent(t *testing.T, r *bufio.Reader) pubsub.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev pubsub.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		}
	}
}

func TestServer_StreamsReloads(t *testing.T) {
	s, dir := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/__livereload/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.NoError(t, s.NotifyReload([]string{filepath.Join(dir, "styles", "main.css")}))
	ev := readEvent(t, r)
	assert.Equal(t, pubsub.TopicReload, ev.Topic)
	assert.Equal(t, pubsub.ReloadCSS, ev.Type)

	var payload pubsub.ReloadEvent
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, []string{"/styles/main.css"}, payload.Paths)

	require.NoError(t, s.NotifyReload([]string{
		filepath.Join(dir, "styles", "main.css"),
		filepath.Join(dir, "index.html"),
	}))
	ev = readEvent(t, r)
	assert.Equal(t, pubsub.ReloadPage, ev.Type)
}

func TestServer_Status(t *testing.T) {
	s, dir := newTestServer(t)

	require.NoError(t, s.PublishBuildStatus(pubsub.BuildStatus{Task: "styles", State: pubsub.StatusOK, Outputs: 4}))
	require.NoError(t, s.NotifyReload([]string{"index.html"}))

	rec := get(t, s.Handler(), "/__livereload/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, dir, status.Dir)
	assert.Equal(t, 1, status.ReloadCount)
	require.NotNil(t, status.LastBuild)
	assert.Equal(t, "styles", status.LastBuild.Task)
	assert.Equal(t, 4, status.LastBuild.Outputs)
}

func TestServer_StartShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	require.NoError(t, s.Start(0))
	assert.Error(t, s.Start(0))

	resp, err := http.Get(s.URL() + "/styles/main.css")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "a{color:red}", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = http.Get(s.URL() + "/")
	assert.Error(t, err)
}
