package supabase

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
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Supabase project
	// (e.g. "https://abcdefgh.supabase.co").
	BaseURL string

	// APIKey is the key sent as both the apikey header and the default
	// bearer credential: the anon key for the caller-scoped client, the
	// service-role key for the administrative client.
	APIKey string

	// ServiceRole marks the administrative channel. It adds the
	// x-service-role header so the data service's policies and triggers
	// can distinguish elevated writes.
	ServiceRole bool

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests when HTTPClient is nil.
	// Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the data service's REST and storage APIs.
// All methods are safe for concurrent use. The zero value is not usable;
// construct with New.
//
// Long-lived instances are built once at process start. Per-request
// instances come from WithRequest and are cheap header wrappers around the
// same underlying transport.
type Client struct {
	baseURL     string
	apiKey      string
	serviceRole bool
	client      *http.Client

	// authorization overrides the default bearer credential; set on
	// per-request wrappers that forward the caller's own token.
	authorization string
	// headers are correlation headers attached to every outbound request.
	headers map[string]string
}

// New creates a Client from the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("supabase: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase: APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		serviceRole: cfg.ServiceRole,
		client:      httpClient,
	}, nil
}

// WithRequest returns a per-request view of the client carrying the given
// correlation headers and, when non-empty, the caller's own authorization
// header in place of the client's key. The underlying transport is shared;
// the wrapper is safe to discard at request end.
func (c *Client) WithRequest(authorization string, headers map[string]string) *Client {
	clone := *c
	clone.authorization = authorization
	clone.headers = headers
	return &clone
}

// Select performs a filtered read against a table and decodes the JSON
// array response into dest.
func (c *Client) Select(ctx context.Context, table string, query url.Values, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.restURL(table, query), nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

// SelectOne performs a filtered read expecting exactly one row.
// A zero-row result surfaces as an Error for which IsNotFound is true.
func (c *Client) SelectOne(ctx context.Context, table string, query url.Values, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.restURL(table, query), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	return c.do(req, dest)
}

// Insert appends one row to a table. The response body is discarded.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	encoded, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("supabase: marshal insert body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.restURL(table, nil), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	return c.do(req, nil)
}

// Update patches the rows matched by query with the given partial row.
func (c *Client) Update(ctx context.Context, table string, query url.Values, row any) error {
	encoded, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("supabase: marshal update body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, c.restURL(table, query), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	return c.do(req, nil)
}

// UploadObject stores an object in a storage bucket. Existing objects are
// not overwritten.
func (c *Client) UploadObject(ctx context.Context, bucket, path, contentType string, data []byte) error {
	u := c.baseURL + "/storage/v1/object/" + bucket + "/" + path
	req, err := c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", "false")
	return c.do(req, nil)
}

// PublicURL returns the public download URL for an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + path
}

func (c *Client) restURL(table string, query url.Values) string {
	u := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("supabase: create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.serviceRole {
		req.Header.Set("x-service-role", "true")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// postgrestError is the wire format of a PostgREST error body.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("supabase: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr postgrestError
		_ = json.Unmarshal(body, &perr)
		if perr.Message == "" {
			perr.Message = strings.TrimSpace(string(body))
		}
		return &Error{StatusCode: resp.StatusCode, Code: perr.Code, Message: perr.Message}
	}

	if dest == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("supabase: decode response: %w", err)
	}
	return nil
}
