package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client is a control socket client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

// Status retrieves the relay status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.getJSON(ctx, "/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Destinations retrieves the per-destination counters in forwarding order.
func (c *Client) Destinations(ctx context.Context) (*DestinationsResponse, error) {
	var dests DestinationsResponse
	if err := c.getJSON(ctx, "/destinations", &dests); err != nil {
		return nil, err
	}
	return &dests, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get performs a GET request to the control socket.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	// The host is ignored, the transport always dials the socket
	url := "http://localhost" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp, nil
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
