package output

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/ritzau/assetpipe/pkg/pipeline"
)

// PrintBuildReport prints a nicely formatted build report with colors. Paths
// are shown relative to root.
func PrintBuildReport(w io.Writer, root string, report *pipeline.Report) {
	// Color definitions
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	// Header
	bold.Fprintln(w, "assetpipe - Build Report")
	bold.Fprintln(w, "========================")
	fmt.Fprintf(w, "Root: %s\n", root)
	fmt.Fprintln(w)

	inputs, outputs, failures := 0, 0, 0
	for _, r := range report.Results {
		inputs += r.Inputs
		outputs += len(r.Outputs)
		failures += len(r.Failures)

		line := fmt.Sprintf("  %-8s %3d in  %3d out  %5dms\n", r.Task, r.Inputs, len(r.Outputs), r.Duration.Milliseconds())
		if r.OK() {
			green.Fprint(w, line)
		} else {
			yellow.Fprint(w, line)
		}
	}
	fmt.Fprintln(w)

	// Failed files list
	if failures > 0 {
		red.Fprintln(w, "FAILED FILES:")
		for _, r := range report.Results {
			for _, f := range r.Failures {
				yellow.Fprintf(w, "  %s\n", relTo(root, f.Path))
				cyan.Fprintf(w, "    Task: %s\n", r.Task)
				fmt.Fprintf(w, "    Error: %v\n", f.Err)
				fmt.Fprintln(w)
			}
		}
	}

	summaryColor := green
	if failures > 0 {
		summaryColor = red
	}
	summaryColor.Fprintf(w, "Summary: %d source files, %d outputs, %d failed in %dms\n",
		inputs, outputs, failures, report.Duration.Milliseconds())

	if failures == 0 {
		green.Fprintln(w, "✓ All assets built!")
	}
}

func relTo(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return rel
	}
	return p
}
