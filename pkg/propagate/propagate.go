package propagate

import (
	"sort"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
	"github.com/skalamera/freshdesk-reconcile/pkg/graph"
)

// Result is the computed delta for one ticket. Immutable once produced;
// the orchestrator consumes each result exactly once. Every TicketID here
// appeared in the graph (or its seed list) — the engine never mutates a
// ticket it did not derive a result for.
type Result struct {
	TicketID     int64
	CurrentTags  []string
	TagsToAdd    []string
	TagsToRemove []string
	Region       string
	GroupID      int64 // 0 means leave the group alone
	SLAMatch     bool
	SLAPolicyID  int64

	// Changed records whether the delta differs from the snapshot, so the
	// orchestrator can skip no-op writes without re-reading the ticket.
	Changed bool
}

// Dirty reports whether applying the result would change the ticket.
func (r *Result) Dirty(snapshot *freshdesk.Ticket) bool {
	if len(r.TagsToAdd) > 0 || len(r.TagsToRemove) > 0 {
		return true
	}
	if r.Region != "" && r.Region != snapshot.Region() {
		return true
	}
	if r.GroupID != 0 && r.GroupID != snapshot.GroupID {
		return true
	}
	return false
}

// FinalTags merges the delta onto the snapshot tag set. The remote API
// replaces the whole tag array on update, so the full merged set is sent.
func (r *Result) FinalTags() []string {
	remove := make(map[string]bool, len(r.TagsToRemove))
	for _, t := range r.TagsToRemove {
		remove[t] = true
	}
	out := make([]string, 0, len(r.CurrentTags)+len(r.TagsToAdd))
	for _, t := range r.CurrentTags {
		if !remove[t] {
			out = append(out, t)
		}
	}
	for _, t := range r.TagsToAdd {
		if !remove[t] {
			out = append(out, t)
		}
	}
	return out
}

// Propagate derives a Result for every resolved ticket in the graph.
// companyStates maps company id to its state field for region seeding;
// pass nil to skip company-based derivation. The function is pure: the
// same graph, rules, and states always yield identical results, ordered
// by ascending ticket id.
func Propagate(g *graph.Graph, rules *Rules, companyStates map[int64]string) []Result {
	results := make([]Result, 0, len(g.TicketIDs()))
	for _, id := range g.TicketIDs() {
		ticket := g.Node(id)
		res := Result{TicketID: id, CurrentTags: append([]string(nil), ticket.Tags...)}

		res.TagsToAdd = inheritedTags(g, rules, ticket)
		res.TagsToRemove = retiredTags(rules, ticket)
		res.Region = resolveRegion(g, rules, ticket, companyStates)

		if res.Region != "" {
			res.GroupID = rules.RegionGroups[res.Region]
		}
		if res.GroupID == 0 {
			res.GroupID = rules.FallbackGroup
		}

		if policy, ok := matchSLA(rules, ticket, &res); ok {
			res.SLAMatch = true
			res.SLAPolicyID = policy.PolicyID
		}
		res.Changed = res.Dirty(ticket)

		results = append(results, res)
	}
	return results
}

// inheritedTags unions tags from prime and tracker parents into the
// child, honoring category overrides: a child already carrying a tag of
// a category never inherits another tag of that category.
func inheritedTags(g *graph.Graph, rules *Rules, ticket *freshdesk.Ticket) []string {
	parents := g.ParentsOf(ticket.ID, graph.KindPrime, graph.KindTracker)
	if len(parents) == 0 {
		return nil
	}

	ownedCategories := make(map[string]bool)
	for _, tag := range ticket.Tags {
		if cat, ok := rules.categoryOf(tag); ok {
			ownedCategories[cat] = true
		}
	}

	candidates := make(map[string]bool)
	for _, pid := range parents {
		parent := g.Node(pid)
		if parent == nil {
			continue // unresolved parent contributes nothing
		}
		for _, tag := range parent.Tags {
			if ticket.HasTag(tag) {
				continue
			}
			if cat, categorized := rules.categoryOf(tag); categorized && ownedCategories[cat] {
				continue
			}
			if containsString(rules.RetiredTags, tag) {
				continue
			}
			candidates[tag] = true
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	out := make([]string, 0, len(candidates))
	for tag := range candidates {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func retiredTags(rules *Rules, ticket *freshdesk.Ticket) []string {
	var out []string
	for _, tag := range rules.RetiredTags {
		if ticket.HasTag(tag) {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// resolveRegion finds the nearest region walking from the ticket up
// through its tracker ancestors (own region first). When two ancestors at
// the same distance disagree, the lexicographically smaller region wins —
// an explicit policy so the result is total and deterministic. With no
// ancestor region, the company state mapping seeds one.
func resolveRegion(g *graph.Graph, rules *Rules, ticket *freshdesk.Ticket, companyStates map[int64]string) string {
	visited := map[int64]bool{ticket.ID: true}
	level := []int64{ticket.ID}
	for len(level) > 0 {
		var regions []string
		var next []int64
		for _, id := range level {
			node := g.Node(id)
			if node == nil {
				continue
			}
			if r := node.Region(); r != "" {
				regions = append(regions, r)
			}
			for _, pid := range g.ParentsOf(id, graph.KindTracker) {
				if !visited[pid] {
					visited[pid] = true
					next = append(next, pid)
				}
			}
		}
		if len(regions) > 0 {
			sort.Strings(regions)
			return regions[0]
		}
		level = next
	}

	if ticket.CompanyID != 0 && companyStates != nil {
		if state, ok := companyStates[ticket.CompanyID]; ok {
			return rules.StateToRegion[state]
		}
	}
	return ""
}

// matchSLA returns the first predicate the ticket satisfies. The tag
// check runs against the effective tag set after the computed delta.
func matchSLA(rules *Rules, ticket *freshdesk.Ticket, res *Result) (*SLAPredicate, bool) {
	effective := make(map[string]bool)
	for _, tag := range res.FinalTags() {
		effective[tag] = true
	}
	bucket := HourBucket(ticket.CreatedAt)

	for i := range rules.SLAPolicies {
		p := &rules.SLAPolicies[i]
		if len(p.Regions) > 0 && !containsString(p.Regions, res.Region) {
			continue
		}
		if len(p.HourBuckets) > 0 && !containsString(p.HourBuckets, bucket) {
			continue
		}
		if len(p.GroupIDs) > 0 && !containsInt64(p.GroupIDs, effectiveGroup(ticket, res)) {
			continue
		}
		if len(p.TicketTypes) > 0 && !containsString(p.TicketTypes, ticket.Type) {
			continue
		}
		if !hasAllTags(effective, p.Tags) {
			continue
		}
		return p, true
	}
	return nil, false
}

func effectiveGroup(ticket *freshdesk.Ticket, res *Result) int64 {
	if res.GroupID != 0 {
		return res.GroupID
	}
	return ticket.GroupID
}

func hasAllTags(have map[string]bool, want []string) bool {
	for _, tag := range want {
		if !have[tag] {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsInt64(list []int64, v int64) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
