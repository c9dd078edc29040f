package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNameConflict is returned by Register when name is already taken by a
// live registration.
var ErrNameConflict = errors.New("registry: name already registered")

// Client talks to a registry server (embedded or standalone) over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client pointed at the registry reachable at addr
// (host:port, no scheme).
func NewClient(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Locate checks whether a registry is reachable at all. Used at startup to
// decide whether to spawn an embedded registry.
func (c *Client) Locate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/locate", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry locate: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Register publishes name -> uri, e.g. "peer.a" -> "http://127.0.0.1:5001".
func (c *Client) Register(ctx context.Context, name, uri string) error {
	body, _ := json.Marshal(registerRequest{Name: name, URI: uri})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return ErrNameConflict
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry register: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Remove evicts name from the registry, best-effort: callers of Remove in
// this codebase ignore the error (see membership.Tracker.PruneStale).
func (c *Client) Remove(ctx context.Context, name string) error {
	body, _ := json.Marshal(removeRequest{Name: name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/remove", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry remove: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// List returns every name -> uri entry whose name starts with prefix.
func (c *Client) List(ctx context.Context, prefix string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list?prefix="+prefix, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry list: unexpected status %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
