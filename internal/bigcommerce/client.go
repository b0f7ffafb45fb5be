// Package bigcommerce is a thin client for the BigCommerce v3 REST API.
//
// Every call goes through [Client.Do], which normalizes the outcome into
// a [Response]: any 2xx status is success, anything else carries an
// "API Error" message, and transport failures are reported as status
// 500 with a "Request failed" message. The endpoint wrappers never
// return Go errors; callers treat Result.Success as the source of truth.
package bigcommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/storefront-mcp/internal/httpkit"
)

// DefaultTimeout bounds each API request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is quoted back.
const maxErrorBody = 4096

// Client issues authenticated requests against one store.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the store rooted at baseURL, for
// example https://api.bigcommerce.com/stores/abc123/v3.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "bigcommerce"),
	}
}

// Response is the normalized outcome of one request.
type Response struct {
	Success    bool
	StatusCode int
	Message    string

	// Data and Meta are the "data" and "meta" members of the response
	// envelope. A body that is not an envelope is returned whole in Data.
	Data any
	Meta any
}

// Do sends one request to endpoint (relative to the store root) with
// params as the query string and body, when non-nil, JSON encoded.
func (c *Client) Do(ctx context.Context, method, endpoint string, params url.Values, body any) *Response {
	start := time.Now()
	resp, err := c.do(ctx, method, endpoint, params, body)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "endpoint", endpoint, "error", err)
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Message:    "Request failed: " + err.Error(),
		}
	}
	c.logger.Debug("request complete",
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any) (*Response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := httpkit.ReadErrorBody(resp.Body, maxErrorBody)
		return &Response{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API Error: %d - %s", resp.StatusCode, text),
		}, nil
	}

	out := &Response{Success: true, StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env, ok := decoded.(map[string]any); ok {
		if data, ok := env["data"]; ok {
			out.Data = data
			out.Meta = env["meta"]
			return out, nil
		}
	}
	out.Data = decoded
	return out, nil
}

// Ping checks that the store answers authenticated requests, using the
// cheap catalog summary endpoint.
func (c *Client) Ping(ctx context.Context) error {
	r := c.Do(ctx, http.MethodGet, "catalog/summary", nil, nil)
	if !r.Success {
		return fmt.Errorf("store unreachable: %s", r.Message)
	}
	return nil
}
