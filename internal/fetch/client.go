package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/realtime-booklist/internal/metrics"
)

const maxResponseBytes = 8 << 20

var errInvalidBody = errors.New("response body is not valid json")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Client posts JSON payloads and returns the JSON response body. Transport
// errors, non-2xx responses and unparseable bodies are all retried.
type Client struct {
	http    *http.Client
	retrier *Retrier
}

// NewClient wires an HTTP client to a retrier. A nil httpClient uses
// http.DefaultClient.
func NewClient(httpClient *http.Client, retrier *Retrier) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, retrier: retrier}
}

// PostJSON sends payload to endpoint and returns the validated response body.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out json.RawMessage
	err = c.retrier.Do(ctx, "POST "+redact(endpoint), func(ctx context.Context) error {
		data, err := c.post(ctx, endpoint, body)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveGeneration(endpoint, "transport_error")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveGeneration(endpoint, "http_"+strconv.Itoa(resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(data)}
	}
	if !gjson.ValidBytes(data) {
		metrics.ObserveGeneration(endpoint, "invalid_body")
		return nil, errInvalidBody
	}
	metrics.ObserveGeneration(endpoint, "ok")
	return json.RawMessage(data), nil
}

// redact drops the query string, which carries the API key for some providers.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

func snippet(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit])
	}
	return string(data)
}
