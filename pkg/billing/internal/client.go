package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxResponseBytes caps how much of a provider response is read
const maxResponseBytes = 1 << 20

// ErrProviderAPIError is the sentinel every ProviderError unwraps to
var ErrProviderAPIError = errors.New("billing provider API error")

// ProviderError carries the upstream response of a failed provider call
type ProviderError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is match ErrProviderAPIError
func (e *ProviderError) Unwrap() error {
	return ErrProviderAPIError
}

// APIMetrics is the part of billing.Metrics the client reports to
type APIMetrics interface {
	RecordAPICall(provider, endpoint, status string)
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// APIClient performs JSON calls against a provider REST API
type APIClient struct {
	Provider    string
	BaseURL     string
	HTTPClient  *http.Client
	Metrics     APIMetrics
	ContentType string

	// Authorize sets the credentials header on every request
	Authorize func(req *http.Request)
}

// Do sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
// endpoint is the metrics label; path is appended to BaseURL.
// Non-2xx responses return *ProviderError.
func (c *APIClient) Do(ctx context.Context, method, endpoint, path string, body, out interface{}) ([]byte, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	contentType := c.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Accept", contentType)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Authorize != nil {
		c.Authorize(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.RecordAPICall(c.Provider, endpoint, "error")
		c.Metrics.RecordAPICallDuration(c.Provider, endpoint, time.Since(start))
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.Metrics.RecordAPICall(c.Provider, endpoint, strconv.Itoa(resp.StatusCode))
	c.Metrics.RecordAPICallDuration(c.Provider, endpoint, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &ProviderError{
			Provider:   c.Provider,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return data, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
	}
	return data, nil
}
