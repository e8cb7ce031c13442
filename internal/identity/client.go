// Package identity resolves the acting identity's run context from the
// identity provider, caching the last good answer per user so report
// runs can fall back to cached claims when the provider is degraded.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"reportd/internal/core"
)

// Client communicates with the identity context provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]*core.RunContext
}

// New creates a Client targeting the given identity provider base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: make(map[string]*core.RunContext),
	}
}

// Resolve fetches the user's run context. A successful lookup refreshes
// the local cache; failures return an error and leave any cached entry
// intact for the caller's fallback.
func (c *Client) Resolve(ctx context.Context, userID string) (*core.RunContext, error) {
	endpoint := c.baseURL + "/v1/users/" + url.PathEscape(userID) + "/context"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating context request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("context request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("context request: unexpected status %d", resp.StatusCode)
	}

	var rc core.RunContext
	if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
		return nil, fmt.Errorf("decoding context response: %w", err)
	}
	rc.UserID = userID
	rc.Degraded = false

	c.mu.Lock()
	cached := rc
	c.cache[userID] = &cached
	c.mu.Unlock()

	return &rc, nil
}

// Cached returns a copy of the last successfully resolved context for
// the user, if one exists.
func (c *Client) Cached(userID string) (*core.RunContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rc, ok := c.cache[userID]
	if !ok {
		return nil, false
	}
	copied := *rc
	return &copied, true
}

var _ core.IdentityResolver = (*Client)(nil)
