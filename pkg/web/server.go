package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/pubsub"
)

//go:embed static/*
var staticFiles embed.FS

// Route prefix reserved for the live reload endpoints
const (
	LiveReloadPrefix = "/__livereload"
	ClientScriptPath = LiveReloadPrefix + "/client.js"
)

var clientTag = []byte(`<script src="` + ClientScriptPath + `" async></script>`)

// Status is served on the status endpoint
type Status struct {
	Dir         string              `json:"dir"`
	Clients     int                 `json:"clients"`
	LastBuild   *pubsub.BuildStatus `json:"last_build,omitempty"`
	ReloadCount int                 `json:"reload_count"`
}

// Server is the development server. It serves the output directory, injects
// the live reload client into HTML pages and pushes reload events.
type Server struct {
	dir       string
	router    *mux.Router
	publisher *pubsub.SSEPublisher
	client    []byte

	mu          sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	reloadCount int
}

// NewServer creates a server for the given output directory
func NewServer(dir string) (*Server, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	client, err := fs.ReadFile(staticFiles, "static/livereload.js")
	if err != nil {
		return nil, fmt.Errorf("failed to load live reload client: %w", err)
	}

	ssePublisher := pubsub.NewSSEPublisher()

	// build_status: replay only the current state to new subscribers
	ssePublisher.ConfigureTopic(pubsub.TopicBuildStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})

	s := &Server{
		dir:       abs,
		router:    mux.NewRouter(),
		publisher: ssePublisher,
		client:    client,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	lr := s.router.PathPrefix(LiveReloadPrefix).Subrouter()
	lr.HandleFunc("/events", s.handleSubscribe(pubsub.TopicReload)).Methods("GET")
	lr.HandleFunc("/status/events", s.handleSubscribe(pubsub.TopicBuildStatus)).Methods("GET")
	lr.HandleFunc("/status", s.handleStatus).Methods("GET")
	lr.HandleFunc("/client.js", s.handleClient).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleStatic).Methods("GET", "HEAD")
}

// Handler returns the full handler chain
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// Dir returns the served directory
func (s *Server) Dir() string {
	return s.dir
}

// Start binds the port and serves in the background. Port 0 picks a free port.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	srv := &http.Server{Handler: s.Handler()}
	s.httpServer = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server stopped", "error", err)
		}
	}()

	logging.Info("serving", "dir", s.dir, "url", s.urlLocked())
	return nil
}

// URL returns the base URL once started
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Server) urlLocked() string {
	if s.listener == nil {
		return ""
	}
	port := s.listener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d", port)
}

// Shutdown ends all event streams and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Closing the publisher ends the SSE handlers, which would otherwise
	// keep Shutdown waiting for their connections
	s.publisher.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// NotifyReload tells every connected client that output files changed. Only
// stylesheets changing lets clients swap CSS without a full reload.
func (s *Server) NotifyReload(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	eventType := pubsub.ReloadCSS
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".css") {
			eventType = pubsub.ReloadPage
		}
		urls = append(urls, s.urlPath(p))
	}

	s.mu.Lock()
	s.reloadCount++
	s.mu.Unlock()

	logging.Debug("notifying clients", "type", eventType, "paths", len(urls),
		"clients", s.publisher.Subscribers(pubsub.TopicReload))
	return s.publisher.Publish(pubsub.TopicReload, eventType, pubsub.ReloadEvent{Paths: urls})
}

// PublishBuildStatus records and broadcasts the outcome of a task run
func (s *Server) PublishBuildStatus(status pubsub.BuildStatus) error {
	return s.publisher.Publish(pubsub.TopicBuildStatus, status.State, status)
}

// urlPath maps an output file to the URL path it is served under
func (s *Server) urlPath(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(s.dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			return "/" + filepath.ToSlash(rel)
		}
		return "/" + filepath.Base(p)
	}
	return "/" + strings.TrimPrefix(filepath.ToSlash(p), "/")
}

func (s *Server) handleSubscribe(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

		sub, err := s.publisher.Subscribe(r.Context(), topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		flusher, _ := w.(http.Flusher)

		// Send initial comment to establish connection (Safari compatibility)
		fmt.Fprintf(w, ": connected\n\n")
		if flusher != nil {
			flusher.Flush()
		}

		// Stream events
		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := pubsub.WriteSSE(w, event); err != nil {
					logging.WarnContext(r.Context(), "error writing SSE event", "error", err)
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := Status{Dir: s.dir, ReloadCount: s.reloadCount}
	s.mu.Unlock()

	status.Clients = s.publisher.Subscribers(pubsub.TopicReload)
	if event, ok := s.publisher.Latest(pubsub.TopicBuildStatus); ok {
		var last pubsub.BuildStatus
		if err := json.Unmarshal(event.Data, &last); err == nil {
			status.LastBuild = &last
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(s.client)
}

// handleStatic serves the output directory. HTML pages get the live reload
// client injected; everything else goes through the file server untouched.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	upath := r.URL.Path
	if strings.HasSuffix(upath, "/") {
		upath += "index.html"
	}

	if isHTML(upath) {
		if s.serveHTML(w, r, upath) {
			return
		}
	}
	http.FileServer(http.Dir(s.dir)).ServeHTTP(w, r)
}

// serveHTML writes the page with the client injected. It reports false when
// the page cannot be read, leaving the response to the file server.
func (s *Server) serveHTML(w http.ResponseWriter, r *http.Request, upath string) bool {
	f, err := http.Dir(s.dir).Open(path.Clean(upath))
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(InjectClient(data)))
	return true
}

// InjectClient inserts the client script before the last </body>, or appends
// it when the page has none
func InjectClient(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, page...), clientTag...)
	}

	out := make([]byte, 0, len(page)+len(clientTag))
	out = append(out, page[:idx]...)
	out = append(out, clientTag...)
	out = append(out, page[idx:]...)
	return out
}

func isHTML(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".html" || ext == ".htm"
}
