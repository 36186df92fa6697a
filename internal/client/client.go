// Package client redeems keys against the plain-text validate endpoint, the way the desktop executor does.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultServer is the public deployment of the key server.
const DefaultServer = "https://renetato.vercel.app"

// valid is the only body that counts as a successful redemption.
const valid = "VALID"

// maxBody bounds how much of the response is read.
const maxBody = 64

// Client talks to GET {server}/api/validate.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// New creates a Client for server. timeout bounds each request.
func New(server string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", server)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   base.String() + "/api/validate",
	}, nil
}

// ValidateKey redeems key. It returns true only when the server answers exactly "VALID".
// A rejected key is (false, nil); transport failures are returned as errors.
func (c *Client) ValidateKey(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?key="+url.QueryEscape(key), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	return string(body) == valid, nil
}
