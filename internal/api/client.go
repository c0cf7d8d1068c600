// Package api is the REST client for the game backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

const (
	// DefaultTimeout bounds every request, so a log attempt can never stay in
	// flight forever.
	DefaultTimeout = 10 * time.Second

	// MaxNearbyRadius is the largest radius the backend accepts for nearby spots.
	MaxNearbyRadius = 10000.0

	maxErrorBody = 64 << 10
)

// Client talks to the backend REST API with a bearer token.
// Safe for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	clock   clock.Clock
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithClock sets the clock used to interpret Retry-After dates.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the backend at baseURL (e.g. "https://claim.example").
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", baseURL)
	}

	c := &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
		clock:   clock.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Token returns the bearer token.
func (c *Client) Token() string {
	return c.token
}

// Attempt issues one automatic log for the spot, implementing
// autolog.LogService. It never returns an error: every outcome is mapped
// onto an autolog.Result.
func (c *Client) Attempt(ctx context.Context, targetID string, lat, lng float64) autolog.Result {
	spotID, err := strconv.Atoi(targetID)
	if err != nil {
		return autolog.Failed(fmt.Errorf("spot id %q is not numeric", targetID))
	}

	var entry LogEntry
	resp, err := c.do(ctx, http.MethodPost, "/api/logs/", url.Values{"is_auto": {"true"}},
		logRequest{SpotID: spotID, Latitude: lat, Longitude: lng}, &entry)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
			return autolog.Throttled(retryAfter(resp.Header, se.Detail, c.clock.Now()))
		}
		return autolog.Failed(err)
	}
	return autolog.Succeeded(entry.Reward())
}

// NearbySpots lists spots within radius meters of the given point. The
// radius is clamped to what the backend accepts; zero uses its default.
func (c *Client) NearbySpots(ctx context.Context, lat, lng, radius float64) ([]Spot, error) {
	q := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lng, 'f', -1, 64)},
	}
	if radius > 0 {
		if radius > MaxNearbyRadius {
			radius = MaxNearbyRadius
		}
		q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	}

	var spots []Spot
	if _, err := c.do(ctx, http.MethodGet, "/api/spots/nearby", q, nil, &spots); err != nil {
		return nil, fmt.Errorf("loading nearby spots: %w", err)
	}
	return spots, nil
}

// MyLogs returns the player's most recent logs, newest first.
func (c *Client) MyLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var logs []LogEntry
	if _, err := c.do(ctx, http.MethodGet, "/api/logs/me", q, nil, &logs); err != nil {
		return nil, fmt.Errorf("loading logs: %w", err)
	}
	return logs, nil
}

// do performs one request. Non-2xx responses come back as *StatusError
// together with the response, whose body has already been consumed.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Code: resp.StatusCode, Detail: parseDetail(data)}
		c.logger.Debug("backend error", "method", method, "path", path, "status", resp.StatusCode, "detail", se.Detail)
		return resp, se
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return resp, nil
}
