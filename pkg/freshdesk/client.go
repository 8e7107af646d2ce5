package freshdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPerPage    = 30
	defaultRPM        = 250
	defaultRetryAfter = 30 * time.Second

	// Retry budgets. After rateLimitRetries consecutive 429s the call fails
	// with RateLimitError; transient failures get transientAttempts tries
	// with exponential backoff (1s, 2s, 4s) between them.
	rateLimitRetries  = 5
	transientAttempts = 4
	backoffBase       = time.Second
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOptions configures a Client. BaseURL and APIKey are required.
type ClientOptions struct {
	// BaseURL is the account API root, e.g.
	// https://example.freshdesk.com/api/v2
	BaseURL string

	// APIKey authenticates via Basic Auth (key as username, "X" password).
	APIKey string

	// RequestsPerMinute caps outgoing calls below the account's rate limit.
	// Default 250.
	RequestsPerMinute int

	// PerPage is the page size requested from list endpoints. Default 30.
	PerPage int

	// RetryAfterDefault is used when a 429 response carries no Retry-After
	// header. Default 30s.
	RetryAfterDefault time.Duration

	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// Client is a rate-limited Freshdesk API client. All reads go through the
// shared retry policy; it never mutates remote state except via UpdateTicket.
type Client struct {
	baseURL    string
	apiKey     string
	perPage    int
	retryAfter time.Duration
	http       HTTPClient
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleep is a seam so tests don't wait out real backoff intervals.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates opts and builds a client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("freshdesk: base URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("freshdesk: API key is required")
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRPM
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	retryAfter := opts.RetryAfterDefault
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		perPage:    perPage,
		retryAfter: retryAfter,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ticket fetches a single ticket snapshot.
func (c *Client) Ticket(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/tickets/%d", c.baseURL, id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Company fetches a company, used to derive region from its state field.
func (c *Client) Company(ctx context.Context, id int64) (*Company, error) {
	var co Company
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/companies/%d", c.baseURL, id), nil, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

// AssociatedTickets pages through the tickets linked to a tracker or
// related ticket.
func (c *Client) AssociatedTickets(id int64) *Pager {
	return c.paginate(fmt.Sprintf("%s/tickets/%d/associated_tickets", c.baseURL, id), nil)
}

// MergedTickets returns the tickets merged into id. Merged sources are
// terminal, so the collection is small and fetched in one shot.
func (c *Client) MergedTickets(ctx context.Context, id int64) ([]Ticket, error) {
	var out []Ticket
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/tickets/%d/merged_tickets", c.baseURL, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrimeAssociation returns the designated primary ticket of a chain, or
// ErrNotFound when the ticket has none.
func (c *Client) PrimeAssociation(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/tickets/%d/prime_association", c.baseURL, id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SLAPolicies fetches all SLA policies.
func (c *Client) SLAPolicies(ctx context.Context) ([]SLAPolicy, error) {
	var out []SLAPolicy
	if _, err := c.do(ctx, http.MethodGet, c.baseURL+"/sla_policies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTicket issues the single write the engine performs: a partial PUT
// on one ticket. The same retry policy as reads applies.
func (c *Client) UpdateTicket(ctx context.Context, id int64, update TicketUpdate) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/tickets/%d", c.baseURL, id), update, nil)
	return err
}

// do runs one logical API call: waits on the limiter, then retries the
// same URL through rate-limit and transient failures until the budget for
// either is exhausted. A 429 never restarts a multi-page sequence; the
// caller's page URL is retried as-is.
func (c *Client) do(ctx context.Context, method, rawURL string, body any, out any) (http.Header, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("freshdesk: encoding %s body: %w", method, err)
		}
	}

	var rateHits, tries int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("freshdesk: building request: %w", err)
		}
		req.SetBasicAuth(c.apiKey, "X")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			tries++
			if tries >= transientAttempts {
				return nil, &TransientError{Attempts: tries, Err: err}
			}
			delay := backoffBase << (tries - 1)
			c.logger.Warn("request failed, backing off",
				slog.String("url", rawURL), slog.Duration("delay", delay), slog.Any("error", err))
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateHits++
			wait := retryAfterInterval(resp.Header, c.retryAfter)
			if rateHits >= rateLimitRetries {
				return nil, &RateLimitError{Attempts: rateHits, RetryAfter: wait}
			}
			c.logger.Warn("rate limited, waiting",
				slog.String("url", rawURL), slog.Duration("retry_after", wait), slog.Int("hit", rateHits))
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue

		case resp.StatusCode >= 500:
			tries++
			if tries >= transientAttempts {
				return nil, &TransientError{
					Attempts: tries,
					Err:      &APIError{StatusCode: resp.StatusCode, Body: string(respBody)},
				}
			}
			delay := backoffBase << (tries - 1)
			c.logger.Warn("server error, backing off",
				slog.String("url", rawURL), slog.Int("status", resp.StatusCode), slog.Duration("delay", delay))
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue

		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrNotFound)

		case resp.StatusCode >= 400:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if readErr != nil {
			return nil, fmt.Errorf("freshdesk: reading response: %w", readErr)
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return nil, fmt.Errorf("freshdesk: decoding %s: %w", rawURL, err)
			}
		}
		return resp.Header, nil
	}
}

// retryAfterInterval reads the server-indicated wait, falling back to def.
func retryAfterInterval(h http.Header, def time.Duration) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) paginate(path string, query url.Values) *Pager {
	return &Pager{client: c, path: path, query: query, page: 1}
}
