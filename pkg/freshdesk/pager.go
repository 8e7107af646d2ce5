package freshdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Pager walks a paginated ticket collection, one request per page. It is
// finite and not restartable: a fresh Pager re-fetches from page 1.
//
// Both pagination styles Freshdesk serves are supported and detected from
// the response: page-number query params terminated by a short page, and
// cursor-style Link headers with rel="next".
type Pager struct {
	client *Client
	path   string
	query  url.Values

	page    int
	nextURL string
	started bool
	done    bool
	items   []Ticket
	err     error
}

// Next fetches the next page. It returns false when the collection is
// exhausted or an error occurred; check Err after the loop.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}

	p.items = p.items[:0]
	target := p.nextURL
	if target == "" {
		q := url.Values{}
		for k, vs := range p.query {
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(p.page))
		q.Set("per_page", strconv.Itoa(p.client.perPage))
		target = p.path + "?" + q.Encode()
	}

	header, err := p.client.do(ctx, http.MethodGet, target, nil, &pageEnvelope{dst: &p.items})
	if err != nil {
		p.err = err
		return false
	}
	p.started = true

	// Cursor responses name the next page outright; otherwise a short page
	// means we just read the last one.
	if next := nextLink(header); next != "" {
		p.nextURL = next
	} else if p.nextURL != "" || len(p.items) < p.client.perPage {
		p.done = true
	} else {
		p.page++
	}

	if len(p.items) == 0 {
		p.done = true
		return false
	}
	return true
}

// Page returns the items fetched by the last successful Next call. The
// slice is reused; it is only valid until the next call to Next.
func (p *Pager) Page() []Ticket { return p.items }

// Err returns the first error the pager hit, if any.
func (p *Pager) Err() error { return p.err }

// All drains the pager into one slice.
func (p *Pager) All(ctx context.Context) ([]Ticket, error) {
	var out []Ticket
	for p.Next(ctx) {
		out = append(out, p.Page()...)
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pageEnvelope decodes either a bare ticket array or an object wrapping
// one ("{"tickets": [...]}"), the two shapes list endpoints serve.
type pageEnvelope struct {
	dst *[]Ticket
}

func (e *pageEnvelope) UnmarshalJSON(data []byte) error {
	*e.dst = (*e.dst)[:0]
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, e.dst)
	}
	var wrapped struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("unrecognized page shape: %w", err)
	}
	*e.dst = wrapped.Tickets
	return nil
}

// nextLink extracts the rel="next" target from a Link header, if present.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			fields := strings.Split(part, ";")
			if len(fields) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(fields[0]), "<>")
			for _, attr := range fields[1:] {
				if strings.TrimSpace(attr) == `rel="next"` {
					return target
				}
			}
		}
	}
	return ""
}
