// Package grok is a minimal REST client for the xAI chat completions API,
// used to send image edit requests and to probe connectivity.
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of a response body is read. Responses with
// inline base64 images are large, but never this large.
const maxResponseBytes = 64 << 20

// Target identifies the endpoint and credentials for one call. It is taken
// from the request's configuration snapshot rather than fixed at construction.
type Target struct {
	URL    string
	APIKey string
}

// StatusError is returned for a non-2xx HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, truncateString(e.Body, 200))
}

// APIError is returned when a 2xx response carries an "error" object.
type APIError struct {
	Message string
	Type    string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error: %s (code: %s)", e.Message, e.Code)
	}
	return "API error: " + e.Message
}

// Client sends requests over a shared http.Client. Deadlines come from the
// caller's context, one per attempt.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient uses a default transport.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Send posts req and returns the raw response body of a successful call.
func (c *Client) Send(ctx context.Context, target Target, req *ChatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	log.Debug().
		Str("url", target.URL).
		Str("model", req.Model).
		Int("request_bytes", len(body)).
		Msg("Sending edit request")

	respBody, err := c.do(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if apiErr := errorFromBody(respBody); apiErr != nil {
		log.Warn().
			Str("message", apiErr.Message).
			Str("code", apiErr.Code).
			Msg("API reported an error in a successful response")
		return nil, apiErr
	}

	log.Debug().
		Int("response_bytes", len(respBody)).
		Dur("duration", time.Since(start)).
		Msg("Edit request complete")
	return respBody, nil
}

// ListModels calls GET on target.URL (the models endpoint) and returns the
// model ids. It is the connectivity probe.
func (c *Client) ListModels(ctx context.Context, target Target) ([]string, error) {
	respBody, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if apiErr := errorFromBody(respBody); apiErr != nil {
		return nil, apiErr
	}

	var ids []string
	gjson.GetBytes(respBody, "data.#.id").ForEach(func(_, v gjson.Result) bool {
		if id := v.String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids, nil
}

func (c *Client) do(ctx context.Context, method string, target Target, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if target.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("API returned error status")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// errorFromBody extracts an OpenAI-style error object, which may be a string
// or an object with message/type/code.
func errorFromBody(body []byte) *APIError {
	e := gjson.GetBytes(body, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return nil
	}
	if e.Type == gjson.String {
		return &APIError{Message: e.String()}
	}
	apiErr := &APIError{
		Message: e.Get("message").String(),
		Type:    e.Get("type").String(),
		Code:    e.Get("code").String(),
	}
	if apiErr.Message == "" {
		apiErr.Message = truncateString(e.Raw, 200)
	}
	return apiErr
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
