// Package graph discovers ticket-to-ticket association graphs from seed
// tickets: tracker/related links, prime associations, and merge targets.
package graph

import (
	"sort"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
)

// Kind classifies a directed association edge.
type Kind string

const (
	// KindTracker links a tracker ticket to a grouped child.
	KindTracker Kind = "tracker"
	// KindPrime links a designated primary ticket to a chain member.
	KindPrime Kind = "prime"
	// KindMerged links a merged (terminal) source to its merge target.
	KindMerged Kind = "merged"
	// KindRelated links generically related tickets.
	KindRelated Kind = "related"
)

// Association is a directed edge From → To. For tracker, prime, and
// related edges From is the parent side; for merged edges From is the
// merged source and To the surviving target.
type Association struct {
	From int64
	To   int64
	Kind Kind
}

// Graph holds the transient association graph for one run: read-only
// ticket snapshots plus edges. It is built once and never mutated by
// later pipeline stages.
type Graph struct {
	seeds []int64
	nodes map[int64]*freshdesk.Ticket
	edges []Association

	// unresolved holds ids referenced by an edge or seed list whose
	// ticket could not be fetched (deleted or inaccessible).
	unresolved map[int64]bool

	parents  map[int64][]Association // keyed by child (To)
	children map[int64][]Association // keyed by parent (From)
}

func newGraph(seeds []int64) *Graph {
	return &Graph{
		seeds:      append([]int64(nil), seeds...),
		nodes:      make(map[int64]*freshdesk.Ticket),
		unresolved: make(map[int64]bool),
		parents:    make(map[int64][]Association),
		children:   make(map[int64][]Association),
	}
}

func (g *Graph) addNode(t *freshdesk.Ticket) {
	g.nodes[t.ID] = t
	delete(g.unresolved, t.ID)
}

func (g *Graph) markUnresolved(id int64) {
	if _, ok := g.nodes[id]; !ok {
		g.unresolved[id] = true
	}
}

func (g *Graph) addEdge(e Association) {
	for _, have := range g.children[e.From] {
		if have == e {
			return
		}
	}
	g.edges = append(g.edges, e)
	g.children[e.From] = append(g.children[e.From], e)
	g.parents[e.To] = append(g.parents[e.To], e)
}

// Seeds returns the seed ticket ids the graph was built from.
func (g *Graph) Seeds() []int64 { return g.seeds }

// Node returns the snapshot for id, or nil when unresolved/unknown.
func (g *Graph) Node(id int64) *freshdesk.Ticket { return g.nodes[id] }

// TicketIDs returns all resolved ticket ids in ascending order.
func (g *Graph) TicketIDs() []int64 {
	ids := make([]int64, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Edges returns every association discovered.
func (g *Graph) Edges() []Association { return g.edges }

// ParentsOf returns the parent ids of child connected by any of the given
// kinds, sorted ascending for deterministic iteration.
func (g *Graph) ParentsOf(child int64, kinds ...Kind) []int64 {
	var out []int64
	for _, e := range g.parents[child] {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e.From)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChildrenOf returns the child ids of parent connected by any of the
// given kinds, sorted ascending.
func (g *Graph) ChildrenOf(parent int64, kinds ...Kind) []int64 {
	var out []int64
	for _, e := range g.children[parent] {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e.To)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unresolved returns the referenced ids that could not be fetched, sorted
// ascending.
func (g *Graph) Unresolved() []int64 {
	ids := make([]int64, 0, len(g.unresolved))
	for id := range g.unresolved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsUnresolved reports whether id was referenced but never fetched.
func (g *Graph) IsUnresolved(id int64) bool { return g.unresolved[id] }

// Contains reports whether id is a resolved node in the graph.
func (g *Graph) Contains(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}
