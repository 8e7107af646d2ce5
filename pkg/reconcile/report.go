package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// Outcome status values.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Skip reasons. Failure outcomes carry the error text instead.
const (
	ReasonDryRun    = "dry-run"
	ReasonNoChange  = "no-op"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// MutationOutcome records what happened to one mutation attempt.
type MutationOutcome struct {
	TicketID int64  `json:"ticket_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Report aggregates a run's outcomes. Details preserve the order the
// outcomes were produced in.
type Report struct {
	Applied int               `json:"applied"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Details []MutationOutcome `json:"details"`
}

// Summarize folds outcomes into a Report.
func Summarize(outcomes []MutationOutcome) Report {
	r := Report{Details: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case StatusApplied:
			r.Applied++
		case StatusFailed:
			r.Failed++
		default:
			r.Skipped++
		}
	}
	return r
}

// Ok reports whether the run completed without failures.
func (r Report) Ok() bool {
	return r.Failed == 0
}

// FailedTickets returns the distinct ids that failed, ascending.
func (r Report) FailedTickets() []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, o := range r.Details {
		if o.Status == StatusFailed && !seen[o.TicketID] {
			seen[o.TicketID] = true
			ids = append(ids, o.TicketID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// String renders a one-line summary suitable for logs.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "applied=%d skipped=%d failed=%d", r.Applied, r.Skipped, r.Failed)
	if ids := r.FailedTickets(); len(ids) > 0 {
		fmt.Fprintf(&b, " failed_tickets=%v", ids)
	}
	return b.String()
}
