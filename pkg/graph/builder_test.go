package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
)

type fakeFetcher struct {
	tickets    map[int64]*freshdesk.Ticket
	associated map[int64][]freshdesk.Ticket
	merged     map[int64][]freshdesk.Ticket
	prime      map[int64]*freshdesk.Ticket

	ticketCalls map[int64]int
	assocCalls  map[int64]int
	fatalOn     int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tickets:     make(map[int64]*freshdesk.Ticket),
		associated:  make(map[int64][]freshdesk.Ticket),
		merged:      make(map[int64][]freshdesk.Ticket),
		prime:       make(map[int64]*freshdesk.Ticket),
		ticketCalls: make(map[int64]int),
		assocCalls:  make(map[int64]int),
	}
}

func (f *fakeFetcher) Ticket(_ context.Context, id int64) (*freshdesk.Ticket, error) {
	f.ticketCalls[id]++
	if id == f.fatalOn {
		return nil, &freshdesk.TransientError{Attempts: 4, Err: fmt.Errorf("connection reset")}
	}
	t, ok := f.tickets[id]
	if !ok {
		return nil, freshdesk.ErrNotFound
	}
	return t, nil
}

func (f *fakeFetcher) AssociatedTickets(_ context.Context, id int64) ([]freshdesk.Ticket, error) {
	f.assocCalls[id]++
	return f.associated[id], nil
}

func (f *fakeFetcher) MergedTickets(_ context.Context, id int64) ([]freshdesk.Ticket, error) {
	return f.merged[id], nil
}

func (f *fakeFetcher) PrimeAssociation(_ context.Context, id int64) (*freshdesk.Ticket, error) {
	t, ok := f.prime[id]
	if !ok {
		return nil, freshdesk.ErrNotFound
	}
	return t, nil
}

func tracker(id int64, childCount int) *freshdesk.Ticket {
	return &freshdesk.Ticket{
		ID:                     id,
		AssociationType:        freshdesk.AssociationTracker,
		AssociatedTicketsCount: childCount,
	}
}

func (f *fakeFetcher) add(t *freshdesk.Ticket) *freshdesk.Ticket {
	f.tickets[t.ID] = t
	return t
}

func (f *fakeFetcher) link(parent int64, children ...*freshdesk.Ticket) {
	for _, c := range children {
		f.associated[parent] = append(f.associated[parent], *c)
	}
}

func TestBuildValidation(t *testing.T) {
	b := NewBuilder(newFakeFetcher(), nil)
	_, err := b.Build(context.Background(), nil, 3)
	require.Error(t, err)
	_, err = b.Build(context.Background(), []int64{1}, -1)
	require.Error(t, err)
}

func TestBuildTrackerCycleTerminates(t *testing.T) {
	f := newFakeFetcher()
	a := f.add(tracker(1, 1))
	b := f.add(tracker(2, 1))
	f.link(a.ID, b)
	f.link(b.ID, a)

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{1}, 10)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, g.TicketIDs())
	assert.Len(t, g.Edges(), 2)
	// Each ticket id fetched at most once despite the cycle.
	assert.Equal(t, 1, f.ticketCalls[1])
	assert.Equal(t, 0, f.ticketCalls[2]) // snapshot came from the page listing
	assert.Equal(t, 1, f.assocCalls[1])
	assert.Equal(t, 1, f.assocCalls[2])
}

func TestBuildDiamondVisitsOnce(t *testing.T) {
	f := newFakeFetcher()
	p1 := f.add(tracker(1, 1))
	p2 := f.add(tracker(2, 1))
	c := f.add(&freshdesk.Ticket{ID: 3})
	f.link(p1.ID, c)
	f.link(p2.ID, c)

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{1, 2}, 5)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, g.TicketIDs())
	assert.Equal(t, []int64{1, 2}, g.ParentsOf(3, KindTracker))
	assert.Equal(t, 0, f.ticketCalls[3])
}

func TestBuildMaxDepthStopsExpansion(t *testing.T) {
	f := newFakeFetcher()
	f.add(tracker(1, 1))
	f.add(tracker(2, 1))
	f.add(&freshdesk.Ticket{ID: 3})
	f.link(1, f.tickets[2])
	f.link(2, f.tickets[3])

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{1}, 1)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, g.TicketIDs())
	assert.Equal(t, 0, f.assocCalls[2])
}

func TestBuildMergedSourcesAreTerminal(t *testing.T) {
	f := newFakeFetcher()
	f.add(&freshdesk.Ticket{ID: 1})
	// The merged source claims to be a tracker with children, but merged
	// tickets are never traversed further.
	source := tracker(5, 3)
	f.merged[1] = []freshdesk.Ticket{*source}

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{1}, 10)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 5}, g.TicketIDs())
	assert.Equal(t, []Association{{From: 5, To: 1, Kind: KindMerged}}, g.Edges())
	assert.Equal(t, 0, f.assocCalls[5])
}

func TestBuildPrimeAssociation(t *testing.T) {
	f := newFakeFetcher()
	f.add(&freshdesk.Ticket{ID: 2, AssociationType: freshdesk.AssociationChild})
	f.prime[2] = &freshdesk.Ticket{ID: 10, Tags: []string{"prime-tag"}}

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{2}, 3)
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 10}, g.TicketIDs())
	assert.Equal(t, []int64{10}, g.ParentsOf(2, KindPrime))
	require.NotNil(t, g.Node(10))
	assert.Equal(t, []string{"prime-tag"}, g.Node(10).Tags)
}

func TestBuildUnresolvedReferenceContinues(t *testing.T) {
	f := newFakeFetcher()
	f.add(&freshdesk.Ticket{ID: 1})

	g, err := NewBuilder(f, nil).Build(context.Background(), []int64{1, 404}, 2)
	require.NoError(t, err)

	assert.True(t, g.IsUnresolved(404))
	assert.Equal(t, []int64{404}, g.Unresolved())
	assert.Equal(t, []int64{1}, g.TicketIDs())
}

func TestBuildFatalErrorSurfaces(t *testing.T) {
	f := newFakeFetcher()
	f.fatalOn = 1

	_, err := NewBuilder(f, nil).Build(context.Background(), []int64{1}, 2)
	var terr *freshdesk.TransientError
	require.ErrorAs(t, err, &terr)
}

func TestBuildCancelled(t *testing.T) {
	f := newFakeFetcher()
	f.add(&freshdesk.Ticket{ID: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(f, nil).Build(ctx, []int64{1}, 2)
	require.ErrorIs(t, err, context.Canceled)
}
