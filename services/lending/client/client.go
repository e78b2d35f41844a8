package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"blendrates/services/lending/api"
	"blendrates/services/lending/engine"
)

const defaultTimeout = 10 * time.Second

// APIError is returned for every non-2xx response. It unwraps to the
// matching engine sentinel so callers can use errors.Is.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("rates api: %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("rates api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_input", "malformed_request":
		return engine.ErrInvalidInput
	case "out_of_bounds":
		return engine.ErrOutOfBounds
	case "not_found":
		return engine.ErrNotFound
	case "unavailable", "rate_limited":
		return engine.ErrUnavailable
	default:
		return nil
	}
}

// Client provides a thin wrapper around the rates HTTP API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent on authenticated routes. Either a
// static API token or a signed JWT is accepted.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New initialises a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	c := &Client{
		base: base,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Rates computes the rate snapshot for a reserve.
func (c *Client) Rates(ctx context.Context, req api.RatesRequest) (api.RatesResponse, error) {
	var resp api.RatesResponse
	err := c.do(ctx, http.MethodPost, "/v1/rates", req, &resp, false)
	return resp, err
}

// ValidateCurve submits a curve for validation.
func (c *Client) ValidateCurve(ctx context.Context, req api.ValidateCurveRequest) (api.ValidationResponse, error) {
	var resp api.ValidationResponse
	err := c.do(ctx, http.MethodPost, "/v1/curves/validate", req, &resp, false)
	return resp, err
}

// Observe records a utilisation sample for reserveID.
func (c *Client) Observe(ctx context.Context, reserveID string, req api.ObservationRequest) (api.ModifierResponse, error) {
	var resp api.ModifierResponse
	err := c.do(ctx, http.MethodPost, "/v1/reserves/"+url.PathEscape(reserveID)+"/observations", req, &resp, true)
	return resp, err
}

// Modifier fetches the stored modifier of reserveID.
func (c *Client) Modifier(ctx context.Context, reserveID string) (api.ModifierResponse, error) {
	var resp api.ModifierResponse
	err := c.do(ctx, http.MethodGet, "/v1/reserves/"+url.PathEscape(reserveID)+"/modifier", nil, &resp, false)
	return resp, err
}

// History lists recent modifier transitions of reserveID. A non-positive
// limit uses the server default.
func (c *Client) History(ctx context.Context, reserveID string, limit int) (api.HistoryResponse, error) {
	path := "/v1/reserves/" + url.PathEscape(reserveID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp, false)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
	var body api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		if body.RequestID != "" {
			apiErr.RequestID = body.RequestID
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	return apiErr
}

// IsUnauthenticated reports whether err is a 401 or 403 response.
func IsUnauthenticated(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}
