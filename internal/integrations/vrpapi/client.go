// Package vrpapi fetches solved route documents from the VRP backend.
package vrpapi

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

	"vrpdash/internal/integrations"
)

const maxBody = 16 << 20

// Client implements integrations.RouteSource over the backend's REST API.
type Client struct {
	base    string
	token   string
	session *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		token:   token,
		session: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Name() string { return "vrp-backend" }

// FetchRoute calls GET /api/routes/{tripID}.
func (c *Client) FetchRoute(ctx context.Context, tripID string) (json.RawMessage, error) {
	if strings.TrimSpace(tripID) == "" {
		return nil, fmt.Errorf("fetch route: trip id must be non-empty")
	}
	body, err := c.get(ctx, "/api/routes/"+url.PathEscape(tripID))
	if err != nil {
		return nil, fmt.Errorf("fetch route %q: %w", tripID, err)
	}
	return unwrap(body)
}

// FetchLatest calls GET /api/routes/latest, the most recently solved trip.
func (c *Client) FetchLatest(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, "/api/routes/latest")
	if err != nil {
		return nil, fmt.Errorf("fetch latest route: %w", err)
	}
	return unwrap(body)
}

// ListTripIDs calls GET /api/routes/trip-ids.
func (c *Client) ListTripIDs(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/routes/trip-ids")
	if err != nil {
		return nil, fmt.Errorf("list trip ids: %w", err)
	}
	var resp struct {
		TripIDs []json.RawMessage `json:"trip_ids"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("list trip ids: decode: %w", err)
	}
	ids := make([]string, 0, len(resp.TripIDs))
	for _, raw := range resp.TripIDs {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// numeric ids are rendered verbatim
			s = strings.TrimSpace(string(raw))
		}
		if s != "" && s != "null" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, integrations.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, &integrations.StatusError{Source: c.Name(), Code: resp.StatusCode, Message: serverMessage(b)}
	}
	return b, nil
}

// serverMessage pulls {"message"} or {"error"} out of an error body.
func serverMessage(b []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	return strings.TrimSpace(string(b))
}

func unwrap(body []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode route document: %w", err)
	}
	if inner, ok := env["route"]; ok {
		trimmed := bytes.TrimSpace(inner)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return json.RawMessage(trimmed), nil
		}
	}
	return json.RawMessage(body), nil
}
