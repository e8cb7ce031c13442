// Package genai is the HTTP client for the external report generation
// service and its companion visualization trigger.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"reportd/internal/core"
)

// Client communicates with the generation service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL. The overall call
// deadline is owned by the caller's context, so the underlying
// http.Client carries no timeout of its own.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// generateRequest is the JSON body for POST /v1/generate.
type generateRequest struct {
	Prompt  string           `json:"prompt"`
	Context *core.RunContext `json:"context,omitempty"`
}

// generateResponse is the JSON returned by POST /v1/generate.
type generateResponse struct {
	Output string `json:"output"`
}

// Generate sends the prompt and run context to the service and returns
// the generated text. Non-2xx responses come back as
// *core.GenerationError carrying the status and response body; a call
// cut off by the context deadline maps to a 504-status GenerationError
// so callers can tell a timeout from a generic failure.
func (c *Client) Generate(ctx context.Context, prompt string, rc *core.RunContext) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, Context: rc})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &core.GenerationError{Status: http.StatusGatewayTimeout, Body: "generation request timed out"}
		}
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &core.GenerationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}
	return result.Output, nil
}

// visualizationRequest is the JSON body for POST /v1/visualizations.
type visualizationRequest struct {
	ResultID string `json:"result_id"`
	Content  string `json:"content"`
}

// RequestVisualization asks the service to derive a visualization for a
// result's content. Fire-and-forget: the artifact arrives later through
// the store, so the response body is discarded.
func (c *Client) RequestVisualization(ctx context.Context, resultID, content string) error {
	body, err := json.Marshal(visualizationRequest{ResultID: resultID, Content: content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/visualizations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating visualization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("visualization request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("visualization request: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ core.Generator = (*Client)(nil)
