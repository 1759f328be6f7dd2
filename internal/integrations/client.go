package integrations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Client wraps http.Client with a circuit breaker so one misbehaving
// upstream does not tie up every execution that routes through it.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a Client with the given per-request timeout. The
// breaker opens after five consecutive failures and probes again after ten
// seconds.
func NewClient(name string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Do executes the request through the breaker. Server errors count as
// breaker failures; 4xx responses do not, since they indicate a caller
// problem rather than upstream health.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errors.New("upstream server error")
		}
		return resp, nil
	})
	if resp != nil {
		// Execute reports 5xx as an error but the body is still usable
		// for error detail extraction.
		return resp, nil
	}
	return nil, err
}

// classifyTransport maps transport-level failures onto the error taxonomy.
func classifyTransport(ctx context.Context, err error) *IntegrationError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(ErrorTimeout, true, "request timed out: %v", err)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return newError(ErrorUpstream, true, "circuit breaker open: %v", err)
	default:
		return newError(ErrorUpstream, true, "request failed: %v", err)
	}
}

// classifyStatus maps an HTTP response status onto the error taxonomy.
// Returns nil for success statuses.
func classifyStatus(status int, body string) *IntegrationError {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(ErrorAuthFailure, false, "authentication rejected (status %d): %s", status, body)
	case status == http.StatusTooManyRequests:
		return newError(ErrorRateLimited, true, "rate limited (status %d)", status)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return newError(ErrorInvalidParams, false, "upstream rejected parameters (status %d): %s", status, body)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return newError(ErrorTimeout, true, "upstream timeout (status %d)", status)
	default:
		return newError(ErrorUpstream, true, "upstream error (status %d): %s", status, body)
	}
}
