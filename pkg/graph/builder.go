package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
)

// Fetcher is the slice of the API client the builder needs. Collections
// are returned fully assembled; pagination stays inside the client.
type Fetcher interface {
	Ticket(ctx context.Context, id int64) (*freshdesk.Ticket, error)
	AssociatedTickets(ctx context.Context, id int64) ([]freshdesk.Ticket, error)
	MergedTickets(ctx context.Context, id int64) ([]freshdesk.Ticket, error)
	PrimeAssociation(ctx context.Context, id int64) (*freshdesk.Ticket, error)
}

// ClientFetcher adapts *freshdesk.Client to Fetcher.
type ClientFetcher struct {
	Client *freshdesk.Client
}

func (f ClientFetcher) Ticket(ctx context.Context, id int64) (*freshdesk.Ticket, error) {
	return f.Client.Ticket(ctx, id)
}

func (f ClientFetcher) AssociatedTickets(ctx context.Context, id int64) ([]freshdesk.Ticket, error) {
	return f.Client.AssociatedTickets(id).All(ctx)
}

func (f ClientFetcher) MergedTickets(ctx context.Context, id int64) ([]freshdesk.Ticket, error) {
	return f.Client.MergedTickets(ctx, id)
}

func (f ClientFetcher) PrimeAssociation(ctx context.Context, id int64) (*freshdesk.Ticket, error) {
	return f.Client.PrimeAssociation(ctx, id)
}

// Builder walks association links breadth-first from seed tickets.
type Builder struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewBuilder creates a Builder. A nil logger falls back to slog.Default.
func NewBuilder(f Fetcher, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{fetcher: f, logger: logger}
}

type frontierItem struct {
	id    int64
	depth int
}

// Build traverses from seeds up to maxDepth hops out. Every ticket id is
// fetched at most once regardless of how many edges reference it, so
// merge cycles and diamond associations terminate. Tickets that cannot be
// fetched (deleted or inaccessible) are marked unresolved and traversal
// continues; only exhausted-retry errors abort the build.
func (b *Builder) Build(ctx context.Context, seeds []int64, maxDepth int) (*Graph, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("graph: at least one seed ticket is required")
	}
	if maxDepth < 0 {
		return nil, fmt.Errorf("graph: max depth must be >= 0, got %d", maxDepth)
	}

	g := newGraph(seeds)
	visited := make(map[int64]bool)
	terminal := make(map[int64]bool) // merged sources: stored, never expanded
	queue := make([]frontierItem, 0, len(seeds))
	for _, id := range seeds {
		queue = append(queue, frontierItem{id: id})
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]
		if visited[item.id] {
			continue
		}
		visited[item.id] = true

		ticket := g.Node(item.id)
		if ticket == nil {
			var err error
			ticket, err = b.fetcher.Ticket(ctx, item.id)
			if errors.Is(err, freshdesk.ErrNotFound) {
				b.logger.Warn("ticket unresolvable, keeping edge", slog.Int64("ticket_id", item.id))
				g.markUnresolved(item.id)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("graph: fetching ticket %d: %w", item.id, err)
			}
			g.addNode(ticket)
		}

		if terminal[item.id] || item.depth >= maxDepth {
			continue
		}

		next, err := b.expand(ctx, g, ticket, terminal)
		if err != nil {
			return nil, err
		}
		for _, id := range next {
			if !visited[id] {
				queue = append(queue, frontierItem{id: id, depth: item.depth + 1})
			}
		}
	}

	return g, nil
}

// expand discovers the associations declared by one ticket and returns
// the newly referenced ids to enqueue.
func (b *Builder) expand(ctx context.Context, g *Graph, ticket *freshdesk.Ticket, terminal map[int64]bool) ([]int64, error) {
	var next []int64

	switch ticket.AssociationType {
	case freshdesk.AssociationTracker, freshdesk.AssociationRelated:
		if ticket.AssociatedTicketsCount > 0 {
			kind := KindTracker
			if ticket.AssociationType == freshdesk.AssociationRelated {
				kind = KindRelated
			}
			children, err := b.fetcher.AssociatedTickets(ctx, ticket.ID)
			if errors.Is(err, freshdesk.ErrNotFound) {
				children = nil
			} else if err != nil {
				return nil, fmt.Errorf("graph: fetching associations of %d: %w", ticket.ID, err)
			}
			for i := range children {
				child := children[i]
				g.addNode(&child)
				g.addEdge(Association{From: ticket.ID, To: child.ID, Kind: kind})
				next = append(next, child.ID)
			}
		}

	case freshdesk.AssociationChild, freshdesk.AssociationParent:
		prime, err := b.fetcher.PrimeAssociation(ctx, ticket.ID)
		if errors.Is(err, freshdesk.ErrNotFound) {
			// No prime designated; nothing to link.
		} else if err != nil {
			return nil, fmt.Errorf("graph: fetching prime association of %d: %w", ticket.ID, err)
		} else {
			g.addNode(prime)
			g.addEdge(Association{From: prime.ID, To: ticket.ID, Kind: KindPrime})
			next = append(next, prime.ID)
		}
	}

	// Merge sources are discovered from the surviving side. They stay in
	// the graph as terminal nodes: read-only, never expanded.
	merged, err := b.fetcher.MergedTickets(ctx, ticket.ID)
	if errors.Is(err, freshdesk.ErrNotFound) {
		merged = nil
	} else if err != nil {
		return nil, fmt.Errorf("graph: fetching merged tickets of %d: %w", ticket.ID, err)
	}
	for i := range merged {
		source := merged[i]
		g.addNode(&source)
		g.addEdge(Association{From: source.ID, To: ticket.ID, Kind: KindMerged})
		terminal[source.ID] = true
		next = append(next, source.ID)
	}

	return next, nil
}
