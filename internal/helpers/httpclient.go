package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// HTTPClient wraps http.Client with a timeout and bounded retries on
// transport errors, 429 and 5xx responses.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
	// UserAgent is sent on every request when set.
	UserAgent string
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// Client exposes the underlying http.Client for libraries that take one.
func (c *HTTPClient) Client() *http.Client { return c.client }

// DoJSON sends body as JSON and decodes a 2xx response into out.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	if body != nil {
		if headers == nil {
			headers = map[string]string{}
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}
	data, err := c.Do(ctx, method, url, headers, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Get fetches url and returns the body of a 2xx response.
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, url, headers, nil)
}

// Do performs the request with retries and returns the response body.
func (c *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}

		data, retry, err := c.once(req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) once(req *http.Request) ([]byte, bool, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, req.Context().Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		return data, false, err
	}
	// read response body (best-effort) to include in error
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return nil, retry, &StatusError{Code: resp.StatusCode, Body: string(b)}
}
