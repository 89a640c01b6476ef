package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client is the HTTP adapter for a remote session service.
//
// Wire protocol:
//
//	POST   {base}/v1/sessions          body: Consent JSON → 201 {id, secret}
//	DELETE {base}/v1/sessions/{id}     Authorization: Bearer {secret} → 204
//
// 401 and 403 responses map to fault.KindSessionExpired.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a [Client] during construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, e.g. for tests or custom
// transports.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// NewClient creates a session service client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("session: base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("session: invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type createResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// CreateSession implements [Service].
func (c *Client) CreateSession(ctx context.Context, consent Consent) (types.SessionCredentials, error) {
	body, err := json.Marshal(consent)
	if err != nil {
		return types.SessionCredentials{}, fmt.Errorf("session: marshal consent: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return types.SessionCredentials{}, fmt.Errorf("session: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.SessionCredentials{}, fmt.Errorf("session: create: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "session.create", http.StatusCreated, http.StatusOK); err != nil {
		return types.SessionCredentials{}, err
	}

	var cr createResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return types.SessionCredentials{}, fmt.Errorf("session: decode response: %w", err)
	}
	if cr.ID == "" {
		return types.SessionCredentials{}, fmt.Errorf("session: service returned empty session id")
	}
	return types.SessionCredentials{ID: cr.ID, Secret: cr.Secret}, nil
}

// EndSession implements [Service]. A 404 or 410 means the session is already
// gone and is not treated as an error.
func (c *Client) EndSession(ctx context.Context, creds types.SessionCredentials) error {
	if creds.ID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/sessions/"+url.PathEscape(creds.ID), nil)
	if err != nil {
		return fmt.Errorf("session: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	return c.checkStatus(resp, "session.end", http.StatusNoContent, http.StatusOK)
}

// checkStatus maps non-success responses to classified errors. Credential
// rejections become fault.KindSessionExpired.
func (c *Client) checkStatus(resp *http.Response, op string, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fault.New(fault.KindSessionExpired, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure Client implements Service at compile time.
var _ Service = (*Client)(nil)
