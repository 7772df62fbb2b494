// Package enrich looks customers up in the retail customer API to obtain
// their phone numbers.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/resilience"
)

// APIError is a non-2xx response from the customer API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("customer api returned status %d", e.StatusCode)
}

// OperatorMessage maps the status code onto the message shown in failure
// reports.
func (e *APIError) OperatorMessage() string {
	switch e.StatusCode {
	case http.StatusNotFound:
		return "Customer ID does not exist"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "Authentication error - access denied"
	case http.StatusBadRequest:
		return "Invalid customer ID format"
	case http.StatusInternalServerError:
		return "Customer API internal server error"
	case http.StatusBadGateway:
		return "Customer API gateway error"
	case http.StatusServiceUnavailable:
		return "Customer API temporarily unavailable"
	case http.StatusTooManyRequests:
		return "Too many requests - rate limit exceeded"
	default:
		return fmt.Sprintf("Customer API error (HTTP %d)", e.StatusCode)
	}
}

// FailureMessage converts any lookup error into the operator-facing string
// recorded against the failed customer.
func FailureMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.OperatorMessage()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Request timeout - customer API took too long to respond"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"):
		return "Customer API server not found"
	case strings.Contains(msg, "connection refused"):
		return "Customer API connection refused"
	default:
		return "No response from customer API - network error"
	}
}

// LookupResult holds one customer's API response. Phone is nil when the
// customer exists but carries no phone number.
type LookupResult struct {
	CustomerID string
	Phone      *string
	Data       json.RawMessage
}

// Client calls the customer API.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a customer API client. The base URL is the customer
// collection endpoint; lookups append the customer id.
func NewClient(baseURL string, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches one customer. Rate-limited responses come back wrapped as
// transient so the retry policy can distinguish them.
func (c *Client) Lookup(ctx context.Context, customerID string) (*LookupResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+customerID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: build lookup request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: lookup %s", customerID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read lookup response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var payload struct {
		Phone *string `json:"phone"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrapf(err, "enrich: decode customer %s", customerID)
	}

	return &LookupResult{
		CustomerID: customerID,
		Phone:      payload.Phone,
		Data:       json.RawMessage(body),
	}, nil
}
