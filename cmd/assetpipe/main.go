package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ritzau/assetpipe/pkg/config"
	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/output"
	"github.com/ritzau/assetpipe/pkg/pipeline"
	"github.com/ritzau/assetpipe/pkg/tasks"
	"github.com/spf13/pflag"
)

const usage = `Usage: assetpipe [flags] [task]

Tasks:
  watch     build everything, then watch the sources and serve the output (default)
  build     build everything once
  styles    compile SCSS
  scripts   bundle and minify scripts
  images    optimise images
  webp      convert images to WebP
  html      expand includes into pages

Flags:
`

func main() {
	// Parse command-line flags
	f := pflag.NewFlagSet("assetpipe", pflag.ContinueOnError)
	f.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		f.PrintDefaults()
	}
	f.String("root", ".", "Project root that the path table is relative to")
	f.Int("port", 3000, "Port for the development server")
	f.Bool("open", true, "Open the browser when serving")
	f.Duration("debounce", 150*time.Millisecond, "Quiet period before a batch of changes is processed")
	f.CountP("verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	f.String("verbosity", "", "Log level: error, warn, info, debug, trace")
	f.Bool("log-json", false, "Write logs as JSON")

	if err := f.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.LogJSON {
		logging.SetJSONOutput(level)
	} else {
		logging.SetLevel(level)
		logging.SetPathRoot(cfg.Root)
	}

	task := "watch"
	switch f.NArg() {
	case 0:
	case 1:
		task = f.Arg(0)
	default:
		f.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(cfg)
	if err != nil {
		logging.Fatal("failed to set up pipeline", "error", err)
	}

	if err := run(ctx, cfg, p, task); err != nil {
		stop()
		logging.Fatal("failed", "task", task, "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, task string) error {
	switch task {
	case "watch":
		var open pipeline.OpenFunc
		if cfg.Open {
			open = openBrowser
		}
		return p.Dev(ctx, cfg.Port, open)

	case "build":
		report, err := p.Build(ctx)
		if err != nil {
			return err
		}
		output.PrintBuildReport(os.Stdout, cfg.Root, report)
		if report.Failed() {
			return errors.New("build had failures")
		}
		return nil

	default:
		if _, ok := p.Task(task); !ok {
			return fmt.Errorf("unknown task %q (want watch, build or one of %s)", task, strings.Join(tasks.Names(), ", "))
		}
		report, err := p.Run(ctx, task)
		if err != nil {
			return err
		}
		return report.Err()
	}
}

func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		return fmt.Errorf("cannot open browser on platform %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start()
}
