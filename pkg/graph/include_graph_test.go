package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncludeGraph_Dependents(t *testing.T) {
	ig := NewIncludeGraph()

	// index -> header -> nav; about -> footer; contact -> nav
	ig.AddInclude("index.html", "header.html")
	ig.AddInclude("header.html", "nav.html")
	ig.AddInclude("about.html", "footer.html")
	ig.AddInclude("contact.html", "nav.html")

	assert.Equal(t, []string{"contact.html", "header.html", "index.html"}, ig.Dependents("nav.html"))
	assert.Equal(t, []string{"about.html"}, ig.Dependents("footer.html"))
	assert.Empty(t, ig.Dependents("index.html"))
	assert.Nil(t, ig.Dependents("unknown.html"))
}

func TestIncludeGraph_AddIncludeIsIdempotent(t *testing.T) {
	ig := NewIncludeGraph()
	ig.AddInclude("index.html", "header.html")
	ig.AddInclude("index.html", "header.html")

	assert.Equal(t, [][2]string{{"index.html", "header.html"}}, ig.Edges())
}

func TestIncludeGraph_ResetIncludes(t *testing.T) {
	ig := NewIncludeGraph()
	ig.AddInclude("index.html", "header.html")
	ig.AddInclude("index.html", "footer.html")
	ig.AddInclude("about.html", "footer.html")

	ig.ResetIncludes("index.html")

	assert.Empty(t, ig.Includes("index.html"))
	assert.True(t, ig.Has("index.html"))
	assert.Equal(t, []string{"about.html"}, ig.Dependents("footer.html"))
}

func TestIncludeGraph_SelfInclude(t *testing.T) {
	ig := NewIncludeGraph()
	require.NotPanics(t, func() {
		ig.AddInclude("loop.html", "loop.html")
	})

	assert.Equal(t, []string{"loop.html"}, ig.SelfIncludes())
	assert.Equal(t, []string{"loop.html"}, ig.Includes("loop.html"))
}

func TestIncludeGraph_SnapshotIsDetached(t *testing.T) {
	ig := NewIncludeGraph()
	ig.AddInclude("a.html", "b.html")

	snap := ig.Snapshot()
	ig.AddInclude("b.html", "c.html")

	assert.Equal(t, 2, snap.Nodes().Len())
	p, ok := ig.PathOf(0)
	require.True(t, ok)
	assert.Equal(t, "a.html", p)
}
