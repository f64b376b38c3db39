package zinguo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	tokenHeader  = "x-access-token"
	maxErrorBody = 4096
)

// Client talks to the Zinguo cloud REST API. Each method is one HTTP call;
// session handling lives in Session and the Coordinator.
type Client struct {
	loginURL   string
	devicesURL string
	controlURL string

	httpClient *http.Client
}

// NewClient builds a client over httpClient. The caller owns its lifetime.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		loginURL:   cfg.LoginURL,
		devicesURL: cfg.DevicesURL,
		controlURL: cfg.ControlURL,
		httpClient: httpClient,
	}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, account, password string) (string, error) {
	payload := map[string]string{
		"account":  account,
		"password": password,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, c.loginURL, "", payload)
	if err != nil {
		return "", &TransientError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: invalid credentials (http %d)", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &TransientError{Op: "login", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode login response: %v", ErrAuthFailed, err)
	}
	if strings.TrimSpace(body.Token) == "" {
		return "", fmt.Errorf("%w: no token in login response", ErrAuthFailed)
	}
	return body.Token, nil
}

// Devices fetches every device bound to the account.
// A 401 is reported as errUnauthorized so the caller can renew and retry.
func (c *Client) Devices(ctx context.Context, token string) ([]RawDevice, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.devicesURL, token, nil)
	if err != nil {
		return nil, &TransientError{Op: "devices", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransientError{Op: "devices", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var devices []RawDevice
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, &TransientError{Op: "devices", Err: fmt.Errorf("decode: %w", err)}
	}
	return devices, nil
}

// Control issues one write. It returns the HTTP status and body so the
// dispatcher can decide between success, renewal and failure.
func (c *Client) Control(ctx context.Context, token string, payload map[string]any) (int, string, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, c.controlURL, token, payload)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, readBody(resp.Body), nil
}

// CloseIdleConnections releases pooled transport connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) doRequest(ctx context.Context, method, url, token string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
