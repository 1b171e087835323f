package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"golang.org/x/time/rate"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/retry"
)

const (
	// DefaultAPIVersion is sent when no version is configured
	DefaultAPIVersion = "3.0.0"

	// MinAPIVersion is the oldest job API that supports client-id idempotency
	MinAPIVersion = "2.0.0"
)

// DefaultRetry is applied to zero fields of ClientConfig.Retry.
var DefaultRetry = retry.Policy{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2,
}

// Client provides HTTP access to the job service.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	retry      retry.Policy
	limiter    *rate.Limiter

	// Debug callback (optional)
	debugFunc func(format string, args ...any)
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	// BaseURL is the job API base URL (e.g., "https://api.imposium.com")
	BaseURL string

	// AccessToken authenticates every request
	AccessToken string

	// APIVersion is the semantic version sent in X-Api-Version (default: 3.0.0)
	APIVersion string

	// Timeout is the HTTP request timeout (default: 30s)
	Timeout time.Duration

	// Retry controls backoff on transient failures (see DefaultRetry)
	Retry retry.Policy

	// RequestsPerSecond limits outgoing requests (default: 10, negative disables)
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 5)
	Burst int

	// DebugFunc is an optional callback for debug logging
	DebugFunc func(format string, args ...any)
}

// NewClient creates a new job API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, experience.Configuration("client", "invalid base URL %q", cfg.BaseURL)
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	v, err := version.NewVersion(cfg.APIVersion)
	if err != nil {
		return nil, experience.Configuration("client", "invalid API version %q: %v", cfg.APIVersion, err)
	}
	if v.LessThan(version.Must(version.NewVersion(MinAPIVersion))) {
		return nil, experience.Configuration("client", "API version %s is older than %s", v, MinAPIVersion)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond < 0 {
		limit = rate.Inf
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		apiVersion: v.String(),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:     cfg.Retry.WithDefaults(DefaultRetry),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		debugFunc: cfg.DebugFunc,
	}, nil
}

// debug logs a message if debug function is configured
func (c *Client) debug(format string, args ...any) {
	if c.debugFunc != nil {
		c.debugFunc(format, args...)
	}
}

// APIVersion returns the normalized version sent with every request.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// call describes a single logical API request.
type call struct {
	op       string
	key      string
	method   string
	path     string
	body     []byte
	progress ProgressFunc
}

// doRequest performs a request, retrying transient failures, and decodes the JSON result.
func (c *Client) doRequest(ctx context.Context, rc call, result any) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := c.retry.Sleep(ctx, attempt); err != nil {
				return c.transportErr(rc, 0, "", err)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return c.transportErr(rc, 0, "", err)
		}

		status, respBody, err := c.send(ctx, rc)
		if c.shouldRetry(ctx, attempt, status, err) {
			c.debug("%s %s: attempt %d failed (status %d, err %v), retrying", rc.method, rc.path, attempt+1, status, err)
			continue
		}
		if err != nil {
			return c.transportErr(rc, 0, "", err)
		}

		if status >= 400 {
			var apiErr APIError
			if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error != "" {
				apiErr.StatusCode = status
				return c.transportErr(rc, status, apiErr.Error, fmt.Errorf("API error: %s", apiErr.Err()))
			}
			return c.transportErr(rc, status, "", fmt.Errorf("request failed with status %d: %s", status, string(respBody)))
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return c.transportErr(rc, status, "", fmt.Errorf("failed to parse response: %w", err))
			}
		}
		return nil
	}
}

// send performs one HTTP attempt.
func (c *Client) send(ctx context.Context, rc call) (int, []byte, error) {
	var reqBody io.Reader
	if rc.body != nil {
		reqBody = bytes.NewReader(rc.body)
		if rc.progress != nil {
			reqBody = &progressReader{r: reqBody, total: int64(len(rc.body)), fn: rc.progress}
		}
		c.debug("request: %s %s - body: %s", rc.method, rc.path, string(rc.body))
	} else {
		c.debug("request: %s %s", rc.method, rc.path)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, c.baseURL+rc.path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Api-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if rc.body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = int64(len(rc.body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.debug("response: %d - %s", resp.StatusCode, string(respBody))
	return resp.StatusCode, respBody, nil
}

// shouldRetry retries network errors, 5xx and 429 until the retry budget is spent.
// Other 4xx responses belong to the caller.
func (c *Client) shouldRetry(ctx context.Context, attempt, status int, err error) bool {
	if attempt >= c.retry.MaxRetries || ctx.Err() != nil {
		return false
	}
	if err != nil {
		return true
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func (c *Client) transportErr(rc call, status int, code string, err error) error {
	return &experience.Error{
		Kind:       experience.KindTransport,
		Op:         rc.op,
		Key:        rc.key,
		StatusCode: status,
		Code:       code,
		Err:        err,
	}
}

// progressReader reports how much of a request body has been read.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
