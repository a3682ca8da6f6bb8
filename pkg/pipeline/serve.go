package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/pubsub"
	"github.com/ritzau/assetpipe/pkg/tasks"
	"github.com/ritzau/assetpipe/pkg/watcher"
	"github.com/ritzau/assetpipe/pkg/web"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// OpenFunc opens a URL, typically in the browser
type OpenFunc func(url string) error

// Serve runs the development server over the output root until ctx is
// cancelled. Writes under the output root reload connected clients, and task
// results are published on the status stream. open, when non-nil, is called
// with the server URL once it listens.
func (p *Pipeline) Serve(ctx context.Context, port int, open OpenFunc) error {
	dir := p.table.OutputRoot()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	server, err := web.NewServer(dir)
	if err != nil {
		return err
	}
	if err := server.Start(port); err != nil {
		return err
	}

	p.OnResult(func(r *tasks.Result) {
		if err := server.PublishBuildStatus(BuildStatus(r)); err != nil {
			logging.Debug("failed to publish build status", "error", err)
		}
	})

	if open != nil {
		if err := open(server.URL()); err != nil {
			logging.Warn("failed to open browser", "url", server.URL(), "error", err)
		}
	}

	err = watchOutput(ctx, dir, p.cfg.Debounce, func(batch watcher.Batch) {
		if err := server.NotifyReload(batch.Paths()); err != nil {
			logging.Debug("failed to notify clients", "error", err)
		}
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logging.Warn("server shutdown failed", "error", serr)
	}
	return err
}

// Dev builds everything once, then watches the sources and serves the output
// side by side until ctx is cancelled
func (p *Pipeline) Dev(ctx context.Context, port int, open OpenFunc) error {
	report, err := p.Build(ctx)
	if err != nil {
		return err
	}
	if report.Failed() {
		logging.Warn("initial build had failures", "error", report.Err())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Watch(ctx)
	})
	g.Go(func() error {
		return p.Serve(ctx, port, open)
	})
	return g.Wait()
}

// BuildStatus converts a task result into its status stream form
func BuildStatus(r *tasks.Result) pubsub.BuildStatus {
	status := pubsub.BuildStatus{
		Task:       r.Task,
		State:      pubsub.StatusOK,
		Outputs:    len(r.Outputs),
		DurationMs: r.Duration.Milliseconds(),
		Time:       time.Now(),
	}
	if !r.OK() {
		status.State = pubsub.StatusFailed
		for _, f := range r.Failures {
			status.Failures = append(status.Failures, f.Error())
		}
	}
	return status
}
