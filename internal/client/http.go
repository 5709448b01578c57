// Package client talks to a running daemon's bridge: plain HTTP for status
// queries and a websocket for live session updates.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maypaper/maypaper/internal/router"
)

// HTTPClient makes REST calls to the bridge.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient targets baseURL, e.g. "http://127.0.0.1:7878".
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// State fetches /api/state.
func (c *HTTPClient) State(ctx context.Context) (*router.State, error) {
	var st router.State
	if err := c.get(ctx, "/api/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// BaseURL turns a bridge listen address or URL into an HTTP base URL.
//
//	127.0.0.1:7878         -> http://127.0.0.1:7878
//	ws://127.0.0.1:7878/ws -> http://127.0.0.1:7878
func BaseURL(addr string) string {
	if !strings.Contains(addr, "://") {
		return "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "http://" + addr
	}
	scheme := "http"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// WatchURL returns the observer websocket URL for an HTTP base URL.
func WatchURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	}
	return "ws://" + baseURL + "/ws"
}
