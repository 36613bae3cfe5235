package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type HTTPMethod = string

const (
	HTTPMethodGet  HTTPMethod = "GET"
	HTTPMethodPost HTTPMethod = "POST"
)

// HTTPDoer is the part of *http.Client http sources need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource contains http-specific source fields
type HTTPSource struct {
	URL     string            `json:"url"`
	Method  *HTTPMethod       `json:"method,omitempty"` // Default is GET
	Headers map[string]string `json:"headers,omitempty"`

	client HTTPDoer
}

// RegisterHTTP registers the http source type, fetching through client.
func (r *Registry) RegisterHTTP(client HTTPDoer) {
	r.Register(HTTPSourceType, func(raw []byte) (Source, error) {
		var src HTTPSource
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, err
		}
		if err := validateURL(src.URL); err != nil {
			return nil, err
		}
		src.URL = strings.TrimSpace(src.URL)
		src.client = client
		return &src, nil
	})
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	if u.User != nil {
		return fmt.Errorf("invalid url %q: user info not allowed", raw)
	}
	return nil
}

func (h *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, h.getMethod(), h.URL, nil)
	if err != nil {
		return nil, err
	}
	// Add custom headers
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", h.URL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (h *HTTPSource) getMethod() HTTPMethod {
	if h.Method != nil {
		return *h.Method
	}
	return HTTPMethodGet
}
