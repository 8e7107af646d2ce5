package freshdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a client against srv with backoff sleeps recorded
// instead of waited out.
func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *sleepRecorder) {
	t.Helper()
	c, err := NewClient(ClientOptions{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		RequestsPerMinute: 600000,
		RetryAfterDefault: 7 * time.Second,
	})
	require.NoError(t, err)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientOptions{APIKey: "k"})
	require.Error(t, err)
	_, err = NewClient(ClientOptions{BaseURL: "https://x.freshdesk.com/api/v2"})
	require.Error(t, err)
}

func TestTicketBasicAuthAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "test-key", user)
		assert.Equal(t, "X", pass)
		assert.Equal(t, "/tickets/42", r.URL.Path)
		fmt.Fprint(w, `{"id":42,"status":2,"tags":["vip"],"custom_fields":{"cf_region":"West","cf_vip":true}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	ticket, err := c.Ticket(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ticket.ID)
	assert.Equal(t, StatusOpen, ticket.Status)
	assert.Equal(t, "West", ticket.Region())
	assert.True(t, ticket.VIP())
	assert.True(t, ticket.HasTag("vip"))
	assert.False(t, ticket.HasTag("missing"))
}

func TestTicketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Ticket(context.Background(), 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransientRetryThenSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id":7}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv)
	ticket, err := c.Ticket(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ticket.ID)
	assert.Equal(t, 3, calls)
	// Exponential backoff: 1s then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.durations())
}

func TestTransientRetryExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Ticket(context.Background(), 7)
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, transientAttempts, terr.Attempts)
	assert.Equal(t, transientAttempts, calls)
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv)
	_, err := c.Ticket(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.durations())
}

func TestRateLimitDefaultInterval(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv)
	_, err := c.Ticket(context.Background(), 1)
	require.NoError(t, err)
	// No Retry-After header: the configured default applies.
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.durations())
}

func TestRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Ticket(context.Background(), 1)
	require.ErrorIs(t, err, ErrRateLimited)
	var rerr *RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rateLimitRetries, rerr.Attempts)
}

func TestUpdateTicketBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tickets/42", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":42}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	group := int64(67000578161)
	status := StatusOpen
	err := c.UpdateTicket(context.Background(), 42, TicketUpdate{
		Status:  &status,
		GroupID: &group,
		Tags:    []string{"vip", "prime"},
		CustomFields: map[string]any{
			"cf_region": "West",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["status"])
	assert.Equal(t, float64(67000578161), got["group_id"])
	assert.Equal(t, []any{"vip", "prime"}, got["tags"])
	assert.Equal(t, map[string]any{"cf_region": "West"}, got["custom_fields"])
}

func TestUpdateTicketClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"description":"Validation failed"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	err := c.UpdateTicket(context.Background(), 1, TicketUpdate{Tags: []string{"x"}})
	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusBadRequest, aerr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestSLAPolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sla_policies", r.URL.Path)
		fmt.Fprint(w, `[{"id":1,"name":"VIP","is_default":false,"applicable_to":{"group_ids":[10],"ticket_types":["Incident"]}},{"id":2,"name":"Default","is_default":true,"applicable_to":{}}]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	policies, err := c.SLAPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, []int64{10}, policies[0].ApplicableTo.GroupIDs)
	assert.True(t, policies[1].IsDefault)
}

func TestRetryAfterInterval(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 5*time.Second, retryAfterInterval(h, 5*time.Second))
	h.Set("Retry-After", "60")
	assert.Equal(t, time.Minute, retryAfterInterval(h, 5*time.Second))
	h.Set("Retry-After", "bogus")
	assert.Equal(t, 5*time.Second, retryAfterInterval(h, 5*time.Second))
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ticket(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrRateLimited))
}
