package agentbrowser

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

	"github.com/restockhq/restock-backend/pkg/config"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

// Client talks to the agent-browser service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an agent-browser client from config.
func NewClient(cfg config.AgentBrowserConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("agent browser base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid agent browser base url: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type openSessionResponse struct {
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) OpenSession(ctx context.Context) (Session, error) {
	var resp openSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return Session{}, err
	}
	if resp.Handle == "" {
		return Session{}, pkgerrors.New(pkgerrors.CodeDependency, "agent browser returned empty session handle")
	}
	return Session{Handle: resp.Handle, ExpiresAt: resp.ExpiresAt}, nil
}

func (c *Client) ExecuteCheckout(ctx context.Context, handle string, req CheckoutRequest) (CheckoutResult, error) {
	if handle == "" {
		return CheckoutResult{}, pkgerrors.New(pkgerrors.CodeValidation, "session handle required")
	}
	var result CheckoutResult
	path := fmt.Sprintf("/v1/sessions/%s/checkout", url.PathEscape(handle))
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return CheckoutResult{}, err
	}
	return result, nil
}

func (c *Client) CloseSession(ctx context.Context, handle string) error {
	if handle == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session handle required")
	}
	path := fmt.Sprintf("/v1/sessions/%s", url.PathEscape(handle))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "agent browser request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("agent browser %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode agent browser response")
	}
	return nil
}
