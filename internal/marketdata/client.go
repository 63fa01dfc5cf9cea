// Package marketdata provides the rate-limited client for the upstream
// market data API: the ranked token catalog and per-token daily history.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL        = "https://api.coingecko.com/api/v3"
	DefaultTimeout        = 30 * time.Second
	DefaultRefillInterval = 2500 * time.Millisecond

	// PageSize is the fixed number of entries per catalog page.
	PageSize = 100

	// HistoryDays is the fixed trailing history window in calendar days.
	HistoryDays = 30

	apiKeyHeader = "x-cg-demo-api-key"
)

// NewLimiter builds the shared request reservoir: one request per refill
// interval, burst of one. Excess callers queue on Wait, they are never
// rejected.
func NewLimiter(refill time.Duration) *rate.Limiter {
	if refill <= 0 {
		refill = DefaultRefillInterval
	}
	return rate.NewLimiter(rate.Every(refill), 1)
}

// Client is an upstream API client bound to a single credential. All clients
// in a process must share one limiter so that the composite outbound rate
// stays within the upstream quota regardless of how many workers are active.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the upstream base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLimiter sets the shared request limiter.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new upstream API client. An empty apiKey sends no
// credential header.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: NewLimiter(DefaultRefillInterval),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs one rate-limited GET and decodes the JSON response body.
// Errors propagate unmodified; retry is the job layer's responsibility.
func (c *Client) get(ctx context.Context, url string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
