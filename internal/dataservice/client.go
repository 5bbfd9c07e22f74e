// Package dataservice is the REST client for the webhook inspection service.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hookscope/internal/httpcontract"
	"hookscope/internal/session"
)

// APIError is a structured error reported by the service. Its message is
// surfaced to the caller verbatim; transport failures are normalized instead.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string { return e.Message }

// Client performs stateless request/response calls against the service.
// Authenticated endpoints send "Authorization: Bearer <token>" using the
// credential supplied by the session provider.
type Client struct {
	baseURL  string
	sessions session.Provider
	http     *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string, sessions session.Provider, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		sessions: sessions,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.sessions.Credential(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure: normalize, do not leak dial/DNS details upward.
		return nil, fmt.Errorf("data service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var env httpcontract.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("data service returned malformed response: %w", err)
	}

	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return nil, &APIError{Message: msg, Status: resp.StatusCode}
	}
	return env.Data, nil
}

// Signup registers a new account and returns the one-time TOTP secret.
func (c *Client) Signup(ctx context.Context, email string) (httpcontract.SignupResult, error) {
	var out httpcontract.SignupResult
	data, err := c.request(ctx, http.MethodPost, httpcontract.RouteSignup, map[string]string{"email": email})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode signup response: %w", err)
	}
	return out, nil
}

// Signin exchanges an email and two consecutive TOTP codes for a bearer token.
func (c *Client) Signin(ctx context.Context, email, code1, code2 string) (httpcontract.SigninResult, error) {
	var out httpcontract.SigninResult
	body := map[string]string{"email": email, "code1": code1, "code2": code2}
	data, err := c.request(ctx, http.MethodPost, httpcontract.RouteSignin, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode signin response: %w", err)
	}
	return out, nil
}

// ListPaths returns all paths for the authenticated user.
func (c *Client) ListPaths(ctx context.Context) ([]httpcontract.Path, error) {
	data, err := c.request(ctx, http.MethodGet, httpcontract.RoutePaths, nil)
	if err != nil {
		return nil, err
	}
	var paths []httpcontract.Path
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, fmt.Errorf("failed to decode paths: %w", err)
	}
	return paths, nil
}

// CreatePath registers a new path and returns the created entry.
func (c *Client) CreatePath(ctx context.Context, route, description string) (httpcontract.Path, error) {
	var out httpcontract.Path
	body := map[string]string{"path": route, "description": description}
	data, err := c.request(ctx, http.MethodPost, httpcontract.RoutePaths, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode created path: %w", err)
	}
	return out, nil
}

// DeletePath removes a path and its recorded webhooks.
func (c *Client) DeletePath(ctx context.Context, id string) error {
	_, err := c.request(ctx, http.MethodDelete, httpcontract.RoutePaths+url.PathEscape(id), nil)
	return err
}

// ListRecords fetches one page of webhook records for a path, newest first,
// together with the total record count.
func (c *Client) ListRecords(ctx context.Context, id string, limit, skip int) (httpcontract.RecordPage, error) {
	var page httpcontract.RecordPage
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))
	path := httpcontract.RoutePaths + url.PathEscape(id) + "/data/?" + q.Encode()

	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return page, err
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return page, fmt.Errorf("failed to decode record page: %w", err)
	}
	return page, nil
}

// ChartSeries fetches the precomputed per-minute series for a path.
func (c *Client) ChartSeries(ctx context.Context, id string) (httpcontract.ChartSeries, error) {
	var series httpcontract.ChartSeries
	path := httpcontract.RoutePaths + url.PathEscape(id) + "/chart/"

	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return series, err
	}
	if err := json.Unmarshal(data, &series); err != nil {
		return series, fmt.Errorf("failed to decode chart series: %w", err)
	}
	return series, nil
}
