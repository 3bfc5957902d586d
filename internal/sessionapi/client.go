// Package sessionapi is the client for the marketplace's session
// bookkeeping REST API. Billing is advisory: every call here is
// best-effort and a failure must never block or abort a call.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the session API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the given base URL, e.g.
// "https://api.example.com".
func New(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

type createRequest struct {
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId"`
	CalleeID  string `json:"calleeId"`
}

// Create registers a new session record before the call connects.
func (c *Client) Create(ctx context.Context, sessionID, callerID, calleeID string) error {
	body, err := json.Marshal(createRequest{
		SessionID: sessionID,
		CallerID:  callerID,
		CalleeID:  calleeID,
	})
	if err != nil {
		return err
	}
	return c.post(ctx, c.base+"/api/sessions", body)
}

// Start marks the session as running once both peers are connected.
func (c *Client) Start(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/sessions/%s/start", c.base, sessionID), nil)
}

// End closes the session record.
func (c *Client) End(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/sessions/%s/end", c.base, sessionID), nil)
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("session api: %s returned %s", url, resp.Status)
	}
	return nil
}
