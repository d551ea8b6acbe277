// Package webservice implements mine.Service over the HTTP API of an
// InterMine-style data warehouse.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"mineat/internal/utils"
	"mineat/mine"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "mineat"
)

var (
	// ErrUnauthorized is matched by API errors with status 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is matched by API errors with status 404.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx answer from the mine.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mine returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match the status sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Config holds connection settings for one mine.
type Config struct {
	BaseURL   string // e.g. https://www.flymine.org/flymine
	Token     string // API token; empty for anonymous access
	Timeout   time.Duration
	UserAgent string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("MINEAT_BASE_URL"),
		Token:   os.Getenv("MINEAT_TOKEN"),
	}
}

// Client talks to one mine. It is safe for concurrent use.
type Client struct {
	config  Config
	client  *http.Client
	baseURL string
}

// New creates a client for the mine at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}, nil
}

// normalizeBaseURL accepts the mine root with or without a trailing
// "/service" and returns the service root ending in "/service/".
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("mine base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mine base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid mine base URL %q: scheme must be http or https", raw)
	}
	path := strings.TrimRight(u.Path, "/")
	path = strings.TrimSuffix(path, "/service")
	u.Path = path + "/service/"
	u.RawQuery = ""
	return u.String(), nil
}

// BaseURL returns the service root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.config.Token != ""
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}

// doRequest performs one authenticated request. GET and DELETE carry params
// in the query string, other methods send them as a form body.
func (c *Client) doRequest(ctx context.Context, method, path string, params mine.Params) (*http.Response, error) {
	target := c.baseURL + strings.TrimLeft(path, "/")

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + values.Encode()
		}
	default:
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Token "+c.config.Token)
	}

	utils.Debugf("%s %s (request %s)", method, req.URL.Path, requestID)
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	utils.Debugf("%s %s -> %d in %s (request %s)", method, req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond), requestID)
	return resp, nil
}

// MakeRequest performs a request and returns its full body. Non-2xx answers
// become *APIError.
func (c *Client) MakeRequest(ctx context.Context, method, path string, params mine.Params) (*mine.Response, error) {
	resp, err := c.doRequest(ctx, method, path, params)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return &mine.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// checkStatus maps a non-2xx answer to an *APIError, taking the message from
// the mine's "error" field when there is one.
func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := ""
	if gjson.ValidBytes(body) {
		msg = gjson.GetBytes(body, "error").String()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// Enrichment runs a list enrichment widget.
func (c *Client) Enrichment(ctx context.Context, params mine.Params) (*mine.EnrichmentResult, error) {
	p := params.Clone()
	p["format"] = "json"

	resp, err := c.MakeRequest(ctx, http.MethodPost, "list/enrichment", p)
	if err != nil {
		return nil, err
	}

	result := &mine.EnrichmentResult{
		Title:       resp.Get("title").String(),
		Description: resp.Get("description").String(),
		PValueLimit: resp.Get("pValue").Float(),
	}
	resp.Get("results").ForEach(func(_, item gjson.Result) bool {
		result.Items = append(result.Items, mine.EnrichmentItem{
			Identifier:  item.Get("identifier").String(),
			Description: item.Get("description").String(),
			PValue:      item.Get("p-value").Float(),
			Matches:     int(item.Get("matches").Int()),
		})
		return true
	})
	return result, nil
}

// Verify interface compliance at compile time
var _ mine.Service = (*Client)(nil)
