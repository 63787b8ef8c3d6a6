package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cwerrors "chainwatch/internal/errors"
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the daemon at addr (host:port).
func NewClient(addr, token string) *Client {
	return &Client{
		base:  "http://" + addr,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the daemon state.
func (c *Client) Status(ctx context.Context) (*State, error) {
	var st State
	if err := c.get(ctx, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set(AuthHeader, AuthScheme+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return cwerrors.NewError(cwerrors.DaemonNotRunning, "daemon unreachable at "+c.base, err, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiResp APIResponse
		if json.NewDecoder(resp.Body).Decode(&apiResp) == nil && apiResp.Error != nil {
			return fmt.Errorf("daemon returned %d: %s: %s", resp.StatusCode, apiResp.Error.Code, apiResp.Error.Message)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
