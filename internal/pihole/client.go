// Package pihole talks to the Pi-hole v6 admin API for readiness checks and
// blocking status, and renders the pihole.toml settings file the container
// mounts. Pi-hole v6 uses session-based authentication via SID tokens.
package pihole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/WillMorrison/tailhole/pkg/httputil"
)

// Client is a Pi-hole v6 admin API client.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	// Session management
	mu             sync.RWMutex
	sid            string
	sessionExpires time.Time
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a Pi-hole v6 API client.
func NewClient(baseURL, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		password:   password,
		httpClient: httputil.DefaultClient(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sessionResponse represents the auth response from Pi-hole v6.
type sessionResponse struct {
	Session struct {
		Valid    bool   `json:"valid"`
		SID      string `json:"sid"`
		CSRF     string `json:"csrf"`
		Validity int    `json:"validity"` // Seconds until expiration
		Message  string `json:"message"`
	} `json:"session"`
}

// authenticate obtains a session ID from Pi-hole v6.
func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if we have a valid session
	if c.sid != "" && time.Now().Before(c.sessionExpires) {
		return nil
	}

	url := c.baseURL + "/api/auth"

	payload := struct {
		Password string `json:"password"`
	}{
		Password: c.password,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var session sessionResponse
	if err := json.Unmarshal(respBody, &session); err != nil {
		return fmt.Errorf("parsing auth response: %w", err)
	}

	if !session.Session.Valid {
		msg := session.Session.Message
		if msg == "" {
			msg = "invalid credentials"
		}
		return fmt.Errorf("authentication failed: %s", msg)
	}

	c.sid = session.Session.SID
	// Expire 30 seconds early to avoid race conditions
	validity := time.Duration(session.Session.Validity-30) * time.Second
	if validity < 30*time.Second {
		validity = 30 * time.Second
	}
	c.sessionExpires = time.Now().Add(validity)

	c.logger.Debug("authenticated with Pi-hole v6",
		slog.Duration("validity", validity))

	return nil
}

// getSID returns the current SID, refreshing if necessary.
func (c *Client) getSID(ctx context.Context) (string, error) {
	if err := c.authenticate(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid, nil
}

// doRequest performs an authenticated request to the Pi-hole v6 API.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	sid, err := c.getSID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("X-FTL-SID", sid)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Session may have expired out from under us
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.sid = ""
		c.sessionExpires = time.Time{}
		c.mu.Unlock()

		return nil, fmt.Errorf("session expired, retry required")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Ping verifies the API is reachable and credentials are valid.
// Used as a readiness checker after bringing the stack up.
func (c *Client) Ping(ctx context.Context) error {
	return c.authenticate(ctx)
}

// BlockingStatus reports whether DNS blocking is currently enabled.
func (c *Client) BlockingStatus(ctx context.Context) (bool, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/dns/blocking")
	if err != nil {
		return false, fmt.Errorf("fetching blocking status: %w", err)
	}

	var result struct {
		Blocking string `json:"blocking"` // "enabled", "disabled", "failed", "unknown"
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("parsing blocking status: %w", err)
	}

	return result.Blocking == "enabled", nil
}

// Summary holds the headline query statistics.
type Summary struct {
	TotalQueries   int     `json:"total"`
	BlockedQueries int     `json:"blocked"`
	PercentBlocked float64 `json:"percent_blocked"`
	DomainsOnList  int     `json:"domains_being_blocked"`
}

// QuerySummary fetches the headline statistics from the node.
func (c *Client) QuerySummary(ctx context.Context) (*Summary, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/stats/summary")
	if err != nil {
		return nil, fmt.Errorf("fetching summary: %w", err)
	}

	var result struct {
		Queries struct {
			Total          int     `json:"total"`
			Blocked        int     `json:"blocked"`
			PercentBlocked float64 `json:"percent_blocked"`
		} `json:"queries"`
		Gravity struct {
			DomainsBeingBlocked int `json:"domains_being_blocked"`
		} `json:"gravity"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}

	return &Summary{
		TotalQueries:   result.Queries.Total,
		BlockedQueries: result.Queries.Blocked,
		PercentBlocked: result.Queries.PercentBlocked,
		DomainsOnList:  result.Gravity.DomainsBeingBlocked,
	}, nil
}
