// helpdesk-mock is a standalone mock of the Freshdesk API for local
// development. It serves a small fixed ticket hierarchy, paginates
// associated tickets, accepts updates, and can simulate rate limiting
// (set MOCK_RATE_LIMIT_EVERY=n to 429 every nth request).
package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
)

type store struct {
	mu         sync.Mutex
	tickets    map[int64]*freshdesk.Ticket
	associated map[int64][]int64
	merged     map[int64][]int64
	prime      map[int64]int64
	companies  map[int64]*freshdesk.Company
	policies   []freshdesk.SLAPolicy

	requests       int
	rateLimitEvery int
}

func main() {
	s := fixtures()
	if raw := os.Getenv("MOCK_RATE_LIMIT_EVERY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatalf("MOCK_RATE_LIMIT_EVERY must be an integer: %v", err)
		}
		s.rateLimitEvery = n
	}

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(s.rateLimit)

	api := e.Group("/api/v2")
	api.GET("/tickets/:id", s.getTicket)
	api.GET("/tickets/:id/associated_tickets", s.getAssociated)
	api.GET("/tickets/:id/prime_association", s.getPrime)
	api.GET("/tickets/:id/merged_tickets", s.getMerged)
	api.PUT("/tickets/:id", s.updateTicket)
	api.GET("/companies/:id", s.getCompany)
	api.GET("/sla_policies", s.getSLAPolicies)

	addr := os.Getenv("MOCK_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	log.Printf("Starting helpdesk mock on %s", addr)
	e.Logger.Fatal(e.Start(addr))
}

func (s *store) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.requests++
		limited := s.rateLimitEvery > 0 && s.requests%s.rateLimitEvery == 0
		s.mu.Unlock()
		if limited {
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"message": "You have exceeded the limit of requests per minute",
			})
		}
		return next(c)
	}
}

func (s *store) ticketByParam(c echo.Context) (*freshdesk.Ticket, int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	return t, id, ok
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"message": "not found"})
}

func (s *store) getTicket(c echo.Context) error {
	t, _, ok := s.ticketByParam(c)
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *store) getAssociated(c echo.Context) error {
	_, id, ok := s.ticketByParam(c)
	if !ok {
		return notFound(c)
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	if perPage < 1 {
		perPage = 30
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.associated[id]
	start := (page - 1) * perPage
	if start > len(ids) {
		start = len(ids)
	}
	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]freshdesk.Ticket, 0, end-start)
	for _, cid := range ids[start:end] {
		if t, ok := s.tickets[cid]; ok {
			out = append(out, *t)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"tickets": out})
}

func (s *store) getPrime(c echo.Context) error {
	_, id, ok := s.ticketByParam(c)
	if !ok {
		return notFound(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	primeID, ok := s.prime[id]
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, s.tickets[primeID])
}

func (s *store) getMerged(c echo.Context) error {
	_, id, ok := s.ticketByParam(c)
	if !ok {
		return notFound(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]freshdesk.Ticket, 0, len(s.merged[id]))
	for _, mid := range s.merged[id] {
		if t, ok := s.tickets[mid]; ok {
			out = append(out, *t)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *store) updateTicket(c echo.Context) error {
	t, _, ok := s.ticketByParam(c)
	if !ok {
		return notFound(c)
	}
	var update freshdesk.TicketUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if update.Tags != nil {
		t.Tags = update.Tags
	}
	if update.GroupID != nil {
		t.GroupID = *update.GroupID
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.CustomFields != nil {
		if t.CustomFields == nil {
			t.CustomFields = make(map[string]any)
		}
		for k, v := range update.CustomFields {
			t.CustomFields[k] = v
		}
	}
	t.UpdatedAt = time.Now().UTC()
	return c.JSON(http.StatusOK, t)
}

func (s *store) getCompany(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return notFound(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	company, ok := s.companies[id]
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, company)
}

func (s *store) getSLAPolicies(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(http.StatusOK, s.policies)
}

// fixtures builds a small hierarchy: tracker 1000 with two children, one
// of which absorbed a merged ticket, plus a related pair and companies
// in two states.
func fixtures() *store {
	now := time.Now().UTC()
	mk := func(id int64, assoc, status int, children int, company int64, tags []string, fields map[string]any) *freshdesk.Ticket {
		return &freshdesk.Ticket{
			ID:                     id,
			Subject:                "Ticket " + strconv.FormatInt(id, 10),
			Status:                 status,
			AssociationType:        assoc,
			AssociatedTicketsCount: children,
			CompanyID:              company,
			Tags:                   tags,
			CustomFields:           fields,
			CreatedAt:              now.Add(-72 * time.Hour),
			UpdatedAt:              now,
		}
	}

	return &store{
		tickets: map[int64]*freshdesk.Ticket{
			1000: mk(1000, freshdesk.AssociationTracker, freshdesk.StatusOpen, 2, 0,
				[]string{"jira-4821", "sev2"}, map[string]any{"cf_region": "West"}),
			1001: mk(1001, freshdesk.AssociationRelated, freshdesk.StatusOpen, 0, 500,
				[]string{"sev2"}, nil),
			1002: mk(1002, freshdesk.AssociationRelated, freshdesk.StatusPending, 0, 501, nil, nil),
			1003: mk(1003, freshdesk.AssociationChild, freshdesk.StatusOpen, 0, 500, nil, nil),
			2000: mk(2000, 0, freshdesk.StatusClosed, 0, 0, []string{"duplicate"}, nil),
		},
		associated: map[int64][]int64{
			1000: {1001, 1002},
		},
		prime: map[int64]int64{
			1003: 1000,
		},
		merged: map[int64][]int64{
			1002: {2000},
		},
		companies: map[int64]*freshdesk.Company{
			500: {ID: 500, Name: "Acme West", CustomFields: map[string]any{"state": "CA"}},
			501: {ID: 501, Name: "Nexus East", CustomFields: map[string]any{"state": "NY"}},
		},
		policies: []freshdesk.SLAPolicy{
			{ID: 501, Name: "Priority accounts", ApplicableTo: freshdesk.ApplicableTo{
				CompanyIDs: []int64{500},
			}},
			{ID: 502, Name: "Default", IsDefault: true},
		},
	}
}
