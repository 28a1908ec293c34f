package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the platform's social service over HTTP. An empty baseURL
// yields a permissive client (everything allowed, bare profiles) so -dev and
// -memdb runs work without the full platform.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) IsAllowed(ctx context.Context, action, actorID, targetID string) (bool, error) {
	if c.baseURL == "" {
		return true, nil
	}
	q := url.Values{"action": {action}, "actor": {actorID}, "target": {targetID}}
	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.getJSON(ctx, "/internal/policy/allowed?"+q.Encode(), &out); err != nil {
		return false, fmt.Errorf("platform.IsAllowed: %w", err)
	}
	return out.Allowed, nil
}

func (c *Client) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	if c.baseURL == "" {
		return false, nil
	}
	q := url.Values{"user_a": {userA}, "user_b": {userB}}
	var out struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.getJSON(ctx, "/internal/policy/blocked?"+q.Encode(), &out); err != nil {
		return false, fmt.Errorf("platform.IsBlocked: %w", err)
	}
	return out.Blocked, nil
}

func (c *Client) Block(ctx context.Context, actorID, targetID string) error {
	if c.baseURL == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"actor": actorID, "target": targetID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/policy/block", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("platform.Block: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform.Block: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("platform.Block: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Profile(ctx context.Context, viewerID, userID string) (Profile, error) {
	if c.baseURL == "" {
		return Profile{ID: userID, Username: userID}, nil
	}
	q := url.Values{"viewer": {viewerID}, "user": {userID}}
	var p Profile
	if err := c.getJSON(ctx, "/internal/users/profile?"+q.Encode(), &p); err != nil {
		return Profile{}, fmt.Errorf("platform.Profile: %w", err)
	}
	return p, nil
}

func (c *Client) IsPremium(ctx context.Context, userID string) (bool, error) {
	if c.baseURL == "" {
		return false, nil
	}
	p, err := c.Profile(ctx, userID, userID)
	if err != nil {
		return false, fmt.Errorf("platform.IsPremium: %w", err)
	}
	return p.Premium, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
