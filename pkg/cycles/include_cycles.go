package cycles

import (
	"sort"
	"strings"

	"github.com/ritzau/assetpipe/pkg/graph"
	"gonum.org/v1/gonum/graph/topo"
)

// IncludeCycle is a set of HTML files that include each other
type IncludeCycle struct {
	Files []string // Sorted file paths in the cycle
}

func (c IncludeCycle) String() string {
	return strings.Join(c.Files, " <-> ")
}

// FindIncludeCycles finds all circular includes in the graph, including
// files that include themselves
func FindIncludeCycles(ig *graph.IncludeGraph) []IncludeCycle {
	cycles := make([]IncludeCycle, 0)

	for _, scc := range topo.TarjanSCC(ig.Snapshot()) {
		// Single nodes are only cycles when they include themselves,
		// which is tracked separately below
		if len(scc) < 2 {
			continue
		}

		files := make([]string, 0, len(scc))
		for _, node := range scc {
			if p, ok := ig.PathOf(node.ID()); ok {
				files = append(files, p)
			}
		}
		sort.Strings(files)
		cycles = append(cycles, IncludeCycle{Files: files})
	}

	for _, p := range ig.SelfIncludes() {
		cycles = append(cycles, IncludeCycle{Files: []string{p}})
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Files[0] < cycles[j].Files[0]
	})
	return cycles
}
