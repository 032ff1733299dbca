package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpClient is shared across every Client for connection reuse.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// Client queries a remote shard's admin HTTP surface.
type Client struct {
	baseURL string
}

// NewClient returns a Client targeting a shard's admin server at baseURL
// (e.g. "http://127.0.0.1:8090").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

// Healthz reports whether the remote shard's admin server is reachable and
// healthy.
func (c *Client) Healthz(ctx context.Context) error {
	return getJSON(ctx, c.baseURL+"/healthz", nil)
}

// Info fetches the remote shard's /info snapshot.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	err := getJSON(ctx, c.baseURL+"/info", &info)
	return info, err
}

// Flush asks the remote shard to run an out-of-band persistence sweep.
func (c *Client) Flush(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/flush", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("adminapi: flush %s: status %d", c.baseURL, resp.StatusCode)
	}
	return nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("adminapi: get %s: status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
