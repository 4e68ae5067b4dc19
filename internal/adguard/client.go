// Package adguard talks to the filtering engine's control API (AdGuard
// Home).
package adguard

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/edvin/revive/internal/model"
)

// maxErrorBody bounds how much of a failed response is kept for logs.
const maxErrorBody = 2048

// Options configures a Client.
type Options struct {
	BaseURL  string
	Username string
	Password string
	TLS      *tls.Config
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64
	// Timeout bounds a single HTTP exchange when the caller's context has
	// no earlier deadline.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates an engine API client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLS != nil {
		transport.TLSClientConfig = opts.TLS
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: limiter,
		logger:  opts.Logger.With().Str("component", "adguard-client").Logger(),
	}
}

// ClientList is the response of GET /control/clients.
type ClientList struct {
	Clients     []Document `json:"clients"`
	AutoClients []Document `json:"auto_clients"`
}

// EngineStats is the subset of GET /control/stats used for the dashboard.
type EngineStats struct {
	NumDNSQueries       int64   `json:"num_dns_queries"`
	NumBlockedFiltering int64   `json:"num_blocked_filtering"`
	AvgProcessingTime   float64 `json:"avg_processing_time"`
}

// ListClients returns the persistent and runtime clients known to the
// engine.
func (c *Client) ListClients(ctx context.Context) (*ClientList, error) {
	var out ClientList
	if err := c.do(ctx, "list clients", http.MethodGet, "/control/clients", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddClient creates a persistent client.
func (c *Client) AddClient(ctx context.Context, doc Document) error {
	return c.do(ctx, "add client", http.MethodPost, "/control/clients/add", doc, nil)
}

// UpdateClient replaces the persistent client currently named name.
func (c *Client) UpdateClient(ctx context.Context, name string, doc Document) error {
	payload := struct {
		Name string   `json:"name"`
		Data Document `json:"data"`
	}{Name: name, Data: doc}
	return c.do(ctx, "update client", http.MethodPost, "/control/clients/update", payload, nil)
}

// AccessList returns the engine's global access list.
func (c *Client) AccessList(ctx context.Context) (Document, error) {
	var out Document
	if err := c.do(ctx, "get access list", http.MethodGet, "/control/access/list", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Document{}
	}
	return out, nil
}

// SetAccessList replaces the engine's global access list.
func (c *Client) SetAccessList(ctx context.Context, doc Document) error {
	return c.do(ctx, "set access list", http.MethodPost, "/control/access/set", doc, nil)
}

// Stats returns the engine's aggregate query counters.
func (c *Client) Stats(ctx context.Context) (*EngineStats, error) {
	var out EngineStats
	if err := c.do(ctx, "get stats", http.MethodGet, "/control/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks that the engine answers authenticated requests.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "status", http.MethodGet, "/control/status", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: model.FailureConvergenceTimeout, Op: op, Err: err}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &Error{Kind: model.FailureEngineRejected, Op: op, Err: fmt.Errorf("marshal: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: model.FailureEngineRejected, Op: op, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: kindForTransport(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{
			Kind:   kindForStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
		c.logger.Debug().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Msg("engine request failed")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: model.FailureEngineRejected, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
