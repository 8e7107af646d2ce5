// Package propagate computes per-ticket metadata deltas (tags, region,
// group, SLA eligibility) from an association graph. It is deterministic
// and performs no network access.
package propagate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Rules is the data driving one propagation pass. Loaded once per run and
// treated as immutable.
type Rules struct {
	// TagCategories groups tags that are mutually exclusive on a ticket
	// (e.g. one tag per escalation level). A child already carrying a tag
	// of a category is an explicit override: it never inherits another
	// tag of the same category from a parent.
	TagCategories map[string][]string `yaml:"tag_categories"`

	// RetiredTags are stripped from every ticket they appear on.
	RetiredTags []string `yaml:"retired_tags"`

	// StateToRegion seeds a region from the ticket's company state when
	// neither the ticket nor its tracker ancestors declare one.
	StateToRegion map[string]string `yaml:"state_to_region"`

	// RegionGroups maps a computed region to the destination group id.
	RegionGroups map[string]int64 `yaml:"region_groups"`

	// FallbackGroup receives tickets whose region cannot be determined
	// (the Triage group in production). Zero disables reassignment.
	FallbackGroup int64 `yaml:"fallback_group"`

	// SLAPolicies are eligibility predicates checked in order; the first
	// match wins.
	SLAPolicies []SLAPredicate `yaml:"sla_policies"`
}

// SLAPredicate is a conjunction of membership checks. Empty lists are
// wildcards; listed tags must all be present on the ticket.
type SLAPredicate struct {
	PolicyID    int64    `yaml:"policy_id"`
	Name        string   `yaml:"name"`
	Regions     []string `yaml:"regions"`
	HourBuckets []string `yaml:"hour_buckets"`
	Tags        []string `yaml:"tags"`
	GroupIDs    []int64  `yaml:"group_ids"`
	TicketTypes []string `yaml:"ticket_types"`
}

// LoadRules reads and validates a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("propagate: reading rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("propagate: parsing rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate rejects rule sets that would make a run ambiguous.
func (r *Rules) Validate() error {
	seen := make(map[string]string)
	for category, tags := range r.TagCategories {
		for _, tag := range tags {
			if prev, dup := seen[tag]; dup {
				return fmt.Errorf("propagate: tag %q in both categories %q and %q", tag, prev, category)
			}
			seen[tag] = category
		}
	}
	for i, p := range r.SLAPolicies {
		if p.PolicyID == 0 {
			return fmt.Errorf("propagate: sla_policies[%d] missing policy_id", i)
		}
	}
	for state, region := range r.StateToRegion {
		if region == "" {
			return fmt.Errorf("propagate: state %q maps to empty region", state)
		}
	}
	return nil
}

// categoryOf returns the category a tag belongs to, if any.
func (r *Rules) categoryOf(tag string) (string, bool) {
	for category, tags := range r.TagCategories {
		for _, t := range tags {
			if t == tag {
				return category, true
			}
		}
	}
	return "", false
}

// Hour bucket names used by SLA predicates.
const (
	BucketOvernight = "overnight" // 00:00–05:59
	BucketMorning   = "morning"   // 06:00–11:59
	BucketAfternoon = "afternoon" // 12:00–17:59
	BucketEvening   = "evening"   // 18:00–23:59
)

// HourBucket buckets a creation timestamp by UTC time of day.
func HourBucket(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 6:
		return BucketOvernight
	case h < 12:
		return BucketMorning
	case h < 18:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}
