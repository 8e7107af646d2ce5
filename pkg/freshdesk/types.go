package freshdesk

import "time"

// Association types as they appear on the ticket object.
const (
	AssociationParent  = 1
	AssociationChild   = 2
	AssociationTracker = 3
	AssociationRelated = 4
)

// Ticket statuses. Accounts define many more custom statuses; the engine
// only needs the built-in ones.
const (
	StatusOpen     = 2
	StatusPending  = 3
	StatusResolved = 4
	StatusClosed   = 5
)

// Custom field keys used by the reconciliation rules.
const (
	customFieldRegion   = "cf_region"
	customFieldDistrict = "cf_district509811"
	customFieldVIP      = "cf_vip"
)

// Ticket is a read-only snapshot of a remote ticket. Pending changes live
// in propagate.Result overlays, never on the snapshot itself.
type Ticket struct {
	ID                     int64          `json:"id"`
	Subject                string         `json:"subject"`
	Status                 int            `json:"status"`
	Priority               int            `json:"priority"`
	Type                   string         `json:"type"`
	Source                 int            `json:"source"`
	Tags                   []string       `json:"tags"`
	RequesterID            int64          `json:"requester_id"`
	ResponderID            int64          `json:"responder_id"`
	GroupID                int64          `json:"group_id"`
	CompanyID              int64          `json:"company_id"`
	AssociationType        int            `json:"association_type"`
	AssociatedTicketsCount int            `json:"associated_tickets_count"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	CustomFields           map[string]any `json:"custom_fields"`
}

// Region returns the cf_region custom field, or "" when unset.
func (t *Ticket) Region() string { return t.customString(customFieldRegion) }

// District returns the district custom field, or "" when unset.
func (t *Ticket) District() string { return t.customString(customFieldDistrict) }

// VIP reports whether the ticket carries the VIP custom flag.
func (t *Ticket) VIP() bool {
	v, ok := t.CustomFields[customFieldVIP].(bool)
	return ok && v
}

func (t *Ticket) customString(key string) string {
	s, _ := t.CustomFields[key].(string)
	return s
}

// HasTag reports whether the snapshot already carries tag.
func (t *Ticket) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// TicketUpdate is the mutable subset of a ticket the engine writes back.
// Nil fields are omitted from the PUT body; Tags replaces the whole tag
// array, so callers must send the merged set.
type TicketUpdate struct {
	Status       *int           `json:"status,omitempty"`
	GroupID      *int64         `json:"group_id,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// Company is the slice of the company object the engine reads: the state
// custom field drives region derivation.
type Company struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	CustomFields map[string]any `json:"custom_fields"`
}

// State returns the company's state custom field, or "" when unset.
func (c *Company) State() string {
	s, _ := c.CustomFields["state"].(string)
	return s
}

// SLAPolicy mirrors the remote SLA policy object. The applicable_to block
// is the eligibility predicate evaluated by the propagator.
type SLAPolicy struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Position     int          `json:"position"`
	IsDefault    bool         `json:"is_default"`
	Active       bool         `json:"active"`
	ApplicableTo ApplicableTo `json:"applicable_to"`
}

// ApplicableTo lists membership constraints; an empty list is a wildcard.
type ApplicableTo struct {
	GroupIDs    []int64  `json:"group_ids"`
	TicketTypes []string `json:"ticket_types"`
	CompanyIDs  []int64  `json:"company_ids"`
	Sources     []int    `json:"sources"`
}
