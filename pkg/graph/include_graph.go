package graph

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// IncludeGraph records which HTML files include which fragments.
// An edge page -> fragment means the page inlines the fragment.
// It is safe for concurrent use.
type IncludeGraph struct {
	mu        sync.RWMutex
	graph     *simple.DirectedGraph
	ids       map[string]int64 // Map from file path to graph ID
	paths     map[int64]string // Map from graph ID to file path
	selfLoops map[string]bool  // Files that include themselves (simple graphs reject self edges)
	nextID    int64
}

// NewIncludeGraph creates an empty include graph
func NewIncludeGraph() *IncludeGraph {
	return &IncludeGraph{
		graph:     simple.NewDirectedGraph(),
		ids:       make(map[string]int64),
		paths:     make(map[int64]string),
		selfLoops: make(map[string]bool),
	}
}

// AddFile adds a file to the graph
func (ig *IncludeGraph) AddFile(path string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	ig.addFile(path)
}

func (ig *IncludeGraph) addFile(path string) int64 {
	if id, exists := ig.ids[path]; exists {
		return id
	}

	id := ig.nextID
	ig.ids[path] = id
	ig.paths[id] = path
	ig.graph.AddNode(simple.Node(id))
	ig.nextID++
	return id
}

// AddInclude adds an edge from an including file to the included one
func (ig *IncludeGraph) AddInclude(from, to string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	fromID := ig.addFile(from)
	toID := ig.addFile(to)

	if fromID == toID {
		ig.selfLoops[from] = true
		return
	}

	if !ig.graph.HasEdgeFromTo(fromID, toID) {
		ig.graph.SetEdge(ig.graph.NewEdge(ig.graph.Node(fromID), ig.graph.Node(toID)))
	}
}

// ResetIncludes drops the outgoing edges of a file before it is re-expanded
func (ig *IncludeGraph) ResetIncludes(path string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	id, exists := ig.ids[path]
	if !exists {
		return
	}
	delete(ig.selfLoops, path)

	var targets []int64
	iter := ig.graph.From(id)
	for iter.Next() {
		targets = append(targets, iter.Node().ID())
	}
	for _, t := range targets {
		ig.graph.RemoveEdge(id, t)
	}
}

// Has reports whether a file is known to the graph
func (ig *IncludeGraph) Has(path string) bool {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	_, ok := ig.ids[path]
	return ok
}

// Includes returns the files directly included by path
func (ig *IncludeGraph) Includes(path string) []string {
	ig.mu.RLock()
	defer ig.mu.RUnlock()

	id, exists := ig.ids[path]
	if !exists {
		return nil
	}

	var out []string
	iter := ig.graph.From(id)
	for iter.Next() {
		out = append(out, ig.paths[iter.Node().ID()])
	}
	if ig.selfLoops[path] {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Dependents returns every file that includes path directly or transitively
func (ig *IncludeGraph) Dependents(path string) []string {
	ig.mu.RLock()
	defer ig.mu.RUnlock()

	id, exists := ig.ids[path]
	if !exists {
		return nil
	}

	seen := map[int64]bool{id: true}
	queue := []int64{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		iter := ig.graph.To(cur)
		for iter.Next() {
			next := iter.Node().ID()
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, ig.paths[next])
			queue = append(queue, next)
		}
	}

	sort.Strings(out)
	return out
}

// Edges returns all include edges as [from, to] pairs
func (ig *IncludeGraph) Edges() [][2]string {
	ig.mu.RLock()
	defer ig.mu.RUnlock()

	var edges [][2]string
	iter := ig.graph.Edges()
	for iter.Next() {
		e := iter.Edge()
		edges = append(edges, [2]string{ig.paths[e.From().ID()], ig.paths[e.To().ID()]})
	}
	for p := range ig.selfLoops {
		edges = append(edges, [2]string{p, p})
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Snapshot returns a copy of the underlying directed graph
func (ig *IncludeGraph) Snapshot() graph.Directed {
	ig.mu.RLock()
	defer ig.mu.RUnlock()

	dst := simple.NewDirectedGraph()
	graph.Copy(dst, ig.graph)
	return dst
}

// PathOf returns the file path for a graph ID
func (ig *IncludeGraph) PathOf(id int64) (string, bool) {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	p, ok := ig.paths[id]
	return p, ok
}

// SelfIncludes returns the files that include themselves
func (ig *IncludeGraph) SelfIncludes() []string {
	ig.mu.RLock()
	defer ig.mu.RUnlock()

	out := make([]string, 0, len(ig.selfLoops))
	for p := range ig.selfLoops {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
