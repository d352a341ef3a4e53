// Package admin is the HTTP client for the gateway's admin API, used by the
// gatewayctl command.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetserve/gateway/pkg/store"
)

// Runner mirrors one entry of the admin runner listing.
type Runner struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	MachineType    string     `json:"machine_type,omitempty"`
	Health         string     `json:"health"`
	IsOnline       bool       `json:"is_online"`
	LoadedModels   []string   `json:"loaded_models,omitempty"`
	Models         []string   `json:"available_models,omitempty"`
	MAC            string     `json:"mac_address,omitempty"`
	ActiveRequests int64      `json:"active_requests"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
}

// Status is the gateway's /status response.
type Status struct {
	Status           string         `json:"status"`
	ConnectedRunners int            `json:"connected_runners"`
	Models           map[string]int `json:"models"`
}

// WakeResult is the outcome of a wake request.
type WakeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client talks to a gateway's admin endpoints with a bearer token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the gateway at base (e.g. http://localhost:8080).
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the gateway's public status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/status", &out)
	return out, err
}

// Runners lists connected and persisted runners.
func (c *Client) Runners(ctx context.Context) ([]Runner, error) {
	var out struct {
		Runners []Runner `json:"runners"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/runners", &out); err != nil {
		return nil, err
	}
	return out.Runners, nil
}

// Wake asks the gateway to send a wake request for a runner. The gateway
// reports unwakeable runners (no known MAC) as a structured failure rather
// than a bare error status.
func (c *Client) Wake(ctx context.Context, id string) (WakeResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/admin/runners/"+id+"/wake", nil)
	if err != nil {
		return WakeResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return WakeResult{}, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out WakeResult
	if err := json.Unmarshal(data, &out); err == nil && out.Message != "" {
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return WakeResult{}, bodyError(data, resp.StatusCode)
	}
	return out, nil
}

// Ping sends a control-channel ping to a connected runner.
func (c *Client) Ping(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/runners/"+id+"/ping", nil)
}

// Requests fetches recent audit records, optionally filtered by model.
func (c *Client) Requests(ctx context.Context, model string, limit int) ([]store.RequestRecord, error) {
	path := "/admin/requests?limit=" + strconv.Itoa(limit)
	if model != "" {
		path += "&model=" + model
	}
	var out struct {
		Requests []store.RequestRecord `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// Logs fetches the gateway's recent log tail.
func (c *Client) Logs(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/logs", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	return string(data), err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// responseError turns a non-2xx response into an error, preferring the
// gateway's structured error message when one is present.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return bodyError(data, resp.StatusCode)
}

func bodyError(data []byte, statusCode int) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("gateway: %s (status %d)", payload.Error.Message, statusCode)
	}
	return fmt.Errorf("gateway: unexpected status %d", statusCode)
}
