// client.go implements the Host interface against the Home Assistant
// REST API with a plain net/http client.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to the Home Assistant REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a REST API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("component", "hass"),
	}
}

// entityState is the /api/states/<entity_id> response shape.
type entityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// State returns the state string of an entity.
func (c *Client) State(ctx context.Context, entityID string) (string, error) {
	st, err := c.entity(ctx, entityID)
	if err != nil {
		return "", err
	}
	return st.State, nil
}

// Attribute returns a single attribute of an entity, or nil when the
// attribute is not present.
func (c *Client) Attribute(ctx context.Context, entityID, name string) (any, error) {
	st, err := c.entity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return st.Attributes[name], nil
}

// CallService invokes a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.do(ctx, http.MethodPost, path, data, nil)
}

// entity fetches the full state object of an entity.
func (c *Client) entity(ctx context.Context, entityID string) (*entityState, error) {
	var st entityState
	if err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// do performs an authenticated API request and decodes the response
// into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := strings.TrimSuffix(c.cfg.URL, "/") + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("hass: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("hass: creating request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hass: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hass: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("hass: decoding %s response: %w", path, err)
		}
	}
	return nil
}

// Compile-time interface verification.
var _ Host = (*Client)(nil)
