// Package hub is the remote resource client for the wallet hub's REST
// API. Authentication/token refresh is an external concern: the client
// is handed a bearer token and never mutates it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// StatusError is a typed HTTP failure carrying the response status.
type StatusError struct {
	Code int
	URI  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub returned %d for %s", e.Code, e.URI)
}

// IsNotFound reports whether err is a 404 StatusError. A 404 is
// distinguished from all other statuses: it means "object gone", not a
// transport failure.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Response is a fetched payload plus response metadata. URL is the
// final URL after redirects; relative URIs inside Data resolve
// against it.
type Response struct {
	Data []byte
	URL  *url.URL
}

// BuildURI resolves a relative URI against the response's final URL.
func (r *Response) BuildURI(relative string) string {
	ref, err := url.Parse(relative)
	if err != nil {
		return relative
	}
	return r.URL.ResolveReference(ref).String()
}

// Client fetches resources from the hub.
type Client interface {
	// Get fetches a URI. timeout bounds this single request; zero means
	// the client's default. Non-2xx responses surface as *StatusError.
	Get(ctx context.Context, uri string, timeout time.Duration) (*Response, error)
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL    *url.URL
	authToken  string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a hub client. requestTimeout is the default
// per-request budget.
func NewHTTPClient(baseURL, authToken string, requestTimeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub base URL: %w", err)
	}
	return &HTTPClient{
		baseURL:   u,
		authToken: authToken,
		timeout:   requestTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Get fetches a URI, resolving it against the client's base URL.
func (c *HTTPClient) Get(ctx context.Context, uri string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ref, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI %q: %w", uri, err)
	}
	target := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URI: target.String()}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return &Response{Data: data, URL: finalURL}, nil
}
