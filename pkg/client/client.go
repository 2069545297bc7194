// Package client provides the retrying HTTP client for the windowed search
// API, with request pacing, backoff, and error classification.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for search API operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winnow_requests_total",
		Help: "Total search API requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "winnow_request_duration_seconds",
		Help:    "Search API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winnow_errors_total",
		Help: "Total search API errors by class",
	}, []string{"class"})
)

// SearchQuery identifies one page of one search.
type SearchQuery struct {
	// Query is the search expression, e.g. a prefix match on the
	// segmentation field. Empty means match everything.
	Query string

	// Filter is the collection scoping expression (extra_filter).
	Filter string

	// From is the result offset.
	From int

	// Size is the page size. Zero requests a count-only response.
	Size int
}

// SearchPage is one page of search results. Hits are kept as raw JSON so
// records can be persisted byte for byte.
type SearchPage struct {
	Total int               `json:"total"`
	Hits  []json.RawMessage `json:"hits"`
}

// Client is the search API client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the search endpoint, e.g. "https://api.example.org/search".
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// RateLimit is the maximum request rate in requests per second.
	// Zero disables pacing.
	RateLimit float64

	// Retry is the retry policy applied to every request.
	Retry RetryPolicy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "winnow/0.1.0",
		Timeout:   30 * time.Second,
		RateLimit: 5,
		Retry:     DefaultRetryPolicy(),
	}
}

// New creates a new search API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %v)", cfg.Timeout)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	logger := log.With().Str("component", "client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Search fetches one page of results. Transient failures (network errors,
// timeouts, retryable statuses, truncated bodies) are retried internally with
// exponential backoff; only fatal errors and exhausted retries surface.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("query", q.Query)
	}
	if q.Filter != "" {
		params.Set("extra_filter", q.Filter)
	}
	params.Set("from", strconv.Itoa(q.From))
	params.Set("size", strconv.Itoa(q.Size))

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}

	return &page, nil
}

// Count returns the exact number of records matching query within filter.
func (c *Client) Count(ctx context.Context, query, filter string) (int, error) {
	page, err := c.Search(ctx, SearchQuery{Query: query, Filter: filter, From: 0, Size: 0})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

// get performs a GET request with pacing and retry, returning the raw body.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	reqURL := c.config.BaseURL + "?" + params.Encode()

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		body, attemptErr = c.attempt(ctx, reqURL)
		return attemptErr
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return body, nil
}

// attempt issues a single GET and classifies the outcome.
func (c *Client) attempt(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", reqURL).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		apiErr := c.classifyStatus(resp, body)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("Search API request error")
		return nil, apiErr
	}

	// A 200 with an unreadable or syntactically incomplete body is a
	// truncated response. It must be retried: accepting it could end a
	// harvest early on what looks like a short final page.
	if readErr != nil {
		errorsTotal.WithLabelValues(string(ErrorClassTruncated)).Inc()
		requestsTotal.WithLabelValues("truncated").Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTruncated,
			Message:    "body read failed",
			Err:        readErr,
		}
	}
	if !json.Valid(body) {
		errorsTotal.WithLabelValues(string(ErrorClassTruncated)).Inc()
		requestsTotal.WithLabelValues("truncated").Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTruncated,
			Message:    "incomplete JSON body",
		}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	return body, nil
}

// classifyStatus categorizes a non-200 response for retry handling.
func (c *Client) classifyStatus(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		RetryAfter: parseRetryAfter(resp.Header),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Class = ErrorClassRateLimit
	case c.config.Retry.RetryStatuses[resp.StatusCode]:
		apiErr.Class = ErrorClassServer
	case resp.StatusCode >= 500:
		apiErr.Class = ErrorClassServer
	default:
		apiErr.Class = ErrorClassClient
		if isWindowExceededBody(body) {
			apiErr.Err = ErrWindowExceeded
		}
	}

	return apiErr
}

// parseRetryAfter extracts a server-provided retry delay, if any. Both forms
// of the header are honored: delay in seconds and HTTP-date.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if wait := time.Until(when); wait > 0 {
		return wait
	}
	return 0
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
