// Package reconcile applies computed propagation deltas back to the
// remote API with per-ticket isolation and aggregates the outcomes.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
	"github.com/skalamera/freshdesk-reconcile/pkg/propagate"
)

const defaultWorkers = 8

// Updater is the write-side slice of the API client. The client's shared
// retry policy (rate-limit and transient backoff) applies to every call.
type Updater interface {
	UpdateTicket(ctx context.Context, id int64, update freshdesk.TicketUpdate) error
}

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds concurrent updates. Default 8; the cap exists to stay
	// under the remote rate limit, not for CPU parallelism.
	Workers int

	// OpenOnReassign also sets a ticket's status to Open whenever its
	// group changes, matching the triage workflow.
	OpenOnReassign bool

	Logger *slog.Logger
}

// Orchestrator pushes mutations for a batch of results. A failure on one
// ticket never aborts processing of the remainder.
type Orchestrator struct {
	updater        Updater
	workers        int
	openOnReassign bool
	logger         *slog.Logger
}

// NewOrchestrator builds an Orchestrator around an Updater.
func NewOrchestrator(u Updater, opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		updater:        u,
		workers:        workers,
		openOnReassign: opts.OpenOnReassign,
		logger:         logger,
	}
}

// Apply issues one update per result and returns an outcome for every
// input, in input order. Results for the same ticket id are applied
// strictly sequentially even though distinct tickets run concurrently:
// the remote API has no compare-and-swap, so per-id serialization is the
// only safe ordering. Cancellation and deadline expiry are checked
// between tickets; in-flight calls complete, and unprocessed tickets are
// recorded skipped.
func (o *Orchestrator) Apply(ctx context.Context, results []propagate.Result, dryRun bool) []MutationOutcome {
	outcomes := make([]MutationOutcome, len(results))

	byTicket := make(map[int64][]int)
	var order []int64
	for i, r := range results {
		if _, seen := byTicket[r.TicketID]; !seen {
			order = append(order, r.TicketID)
		}
		byTicket[r.TicketID] = append(byTicket[r.TicketID], i)
	}

	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for _, id := range order {
		indices := byTicket[id]
		g.Go(func() error {
			for _, i := range indices {
				outcomes[i] = o.applyOne(ctx, &results[i], dryRun)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in outcomes

	return outcomes
}

func (o *Orchestrator) applyOne(ctx context.Context, res *propagate.Result, dryRun bool) MutationOutcome {
	if err := ctx.Err(); err != nil {
		reason := ReasonCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return MutationOutcome{TicketID: res.TicketID, Status: StatusSkipped, Reason: reason}
	}
	if dryRun {
		return MutationOutcome{TicketID: res.TicketID, Status: StatusSkipped, Reason: ReasonDryRun}
	}
	if !res.Changed {
		return MutationOutcome{TicketID: res.TicketID, Status: StatusSkipped, Reason: ReasonNoChange}
	}

	update := o.buildUpdate(res)

	// The run context governs scheduling only. Letting the call itself
	// finish avoids leaving the remote ticket half-updated; the HTTP
	// client's own timeout still bounds a hung request.
	err := o.updater.UpdateTicket(context.WithoutCancel(ctx), res.TicketID, update)
	if err != nil {
		o.logger.Error("ticket update failed",
			slog.Int64("ticket_id", res.TicketID), slog.Any("error", err))
		return MutationOutcome{TicketID: res.TicketID, Status: StatusFailed, Reason: err.Error()}
	}
	return MutationOutcome{TicketID: res.TicketID, Status: StatusApplied}
}

func (o *Orchestrator) buildUpdate(res *propagate.Result) freshdesk.TicketUpdate {
	var update freshdesk.TicketUpdate
	if len(res.TagsToAdd) > 0 || len(res.TagsToRemove) > 0 {
		update.Tags = res.FinalTags()
	}
	if res.Region != "" {
		update.CustomFields = map[string]any{"cf_region": res.Region}
	}
	if res.GroupID != 0 {
		gid := res.GroupID
		update.GroupID = &gid
		if o.openOnReassign {
			status := freshdesk.StatusOpen
			update.Status = &status
		}
	}
	return update
}
